package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"bottleneck/internal/model"
)

// FromDefinition builds a template whose objective is the weighted sum of
// the raw variable values.
func FromDefinition(def model.Definition) (*Template, error) {
	name := def.Domain
	if name == "" {
		name = def.Name
	}
	direction := def.Objective.Direction
	if direction == "" {
		direction = model.Maximize
	}

	variables := append([]model.VariableSpec(nil), def.Variables...)
	for i := range variables {
		if variables[i].Kind == "" {
			variables[i].Kind = model.VariableContinuous
		}
		variables[i].Options = append([]float64(nil), variables[i].Options...)
	}
	type term struct {
		variable string
		weight   float64
	}
	terms := make([]term, 0, len(variables))
	known := make(map[string]struct{}, len(variables))
	for _, v := range variables {
		w, ok := def.Objective.Weights[v.Name]
		if !ok {
			w = 1
		}
		terms = append(terms, term{variable: v.Name, weight: w})
		known[v.Name] = struct{}{}
	}
	for variable := range def.Objective.Weights {
		if _, ok := known[variable]; !ok {
			return nil, fmt.Errorf("%w: objective weight for unknown variable %s", ErrInvalidDefinition, variable)
		}
	}

	t := &Template{
		Name:        name,
		Variables:   variables,
		Constraints: append([]model.ConstraintSpec(nil), def.Constraints...),
		Objective: Objective{
			Direction: direction,
			Score: func(v Values) float64 {
				total := 0.0
				for _, tm := range terms {
					total += tm.weight * v[tm.variable]
				}
				return total
			},
		},
		Metadata: Metadata{
			DisplayName: def.Name,
			Description: def.Description,
			Complexity:  complexity(len(variables)),
		},
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t, nil
}

func complexity(variables int) string {
	if variables > 5 {
		return "high"
	}
	return "medium"
}

// LoadDefinition reads a bottleneck definition from a YAML or JSON file.
func LoadDefinition(path string) (model.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Definition{}, err
	}
	return ParseDefinition(data, filepath.Ext(path))
}

func ParseDefinition(data []byte, ext string) (model.Definition, error) {
	var def model.Definition
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return model.Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return model.Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}
	if def.Name == "" {
		def.Name = def.Domain
	}
	return def, nil
}
