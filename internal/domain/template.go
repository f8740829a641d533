package domain

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"bottleneck/internal/attractor"
	"bottleneck/internal/model"
)

// Values is a candidate solution keyed by variable name.
type Values map[string]float64

func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

type Objective struct {
	Direction model.Direction
	Score     func(Values) float64
}

// Rule is a domain-specific check beyond the declarative constraints.
type Rule struct {
	Description string
	Violated    func(Values) bool
}

// Violation names one failed constraint or rule for a solution.
type Violation struct {
	Variable    string  `json:"variable,omitempty"`
	Description string  `json:"description"`
	Value       float64 `json:"value,omitempty"`
}

// ActionSpec renders a recommended deployment action from a solution.
type ActionSpec struct {
	Type     string
	Priority string
	Describe func(Values) string
}

type Metadata struct {
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description"`
	Complexity    string   `json:"complexity"`
	KeyIndicators []string `json:"key_indicators,omitempty"`
}

// Template describes one bottleneck problem as data plus a scoring closure.
// Templates are immutable once built.
type Template struct {
	Name        string
	Variables   []model.VariableSpec
	Constraints []model.ConstraintSpec
	Objective   Objective
	Rules       []Rule
	// Presets selects a parameter preset per attractor kind. Kinds without an
	// entry fall back to the resolver's preset table.
	Presets     map[attractor.Kind]string
	Preferences map[attractor.Kind]float64
	Actions     []ActionSpec
	Metadata    Metadata
}

// Check validates the template's structure.
func (t *Template) Check() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(t.Variables) == 0 {
		return fmt.Errorf("%w: %s declares no variables", ErrInvalidDefinition, t.Name)
	}
	if t.Objective.Score == nil {
		return fmt.Errorf("%w: %s has no objective", ErrInvalidDefinition, t.Name)
	}
	switch t.Objective.Direction {
	case model.Maximize, model.Minimize:
	default:
		return fmt.Errorf("%w: unsupported objective direction %q", ErrInvalidDefinition, t.Objective.Direction)
	}

	seen := make(map[string]struct{}, len(t.Variables))
	for _, v := range t.Variables {
		if v.Name == "" {
			return fmt.Errorf("%w: variable without a name", ErrInvalidDefinition)
		}
		if _, ok := seen[v.Name]; ok {
			return fmt.Errorf("%w: duplicate variable %s", ErrInvalidDefinition, v.Name)
		}
		seen[v.Name] = struct{}{}

		switch v.Kind {
		case model.VariableContinuous:
			if !(v.Max > v.Min) || math.IsInf(v.Max-v.Min, 0) {
				return fmt.Errorf("%w: variable %s needs min < max", ErrInvalidDefinition, v.Name)
			}
		case model.VariableDiscrete:
			if len(v.Options) == 0 {
				return fmt.Errorf("%w: discrete variable %s has no options", ErrInvalidDefinition, v.Name)
			}
		case model.VariableBinary:
		default:
			return fmt.Errorf("%w: variable %s has unsupported kind %q", ErrInvalidDefinition, v.Name, v.Kind)
		}
	}

	for _, c := range t.Constraints {
		if _, ok := seen[c.Variable]; !ok {
			return fmt.Errorf("%w: constraint references unknown variable %s", ErrInvalidDefinition, c.Variable)
		}
		switch c.Kind {
		case model.ConstraintRange, model.ConstraintEquality, model.ConstraintMinimum, model.ConstraintMaximum:
		default:
			return fmt.Errorf("%w: constraint on %s has unsupported kind %q", ErrInvalidDefinition, c.Variable, c.Kind)
		}
	}
	return nil
}

// GenerateInitialConditions draws n candidate points inside the variable
// bounds: uniform for continuous variables, uniform choice otherwise.
func (t *Template) GenerateInitialConditions(rng *rand.Rand, n int) []Values {
	out := make([]Values, 0, n)
	for i := 0; i < n; i++ {
		values := make(Values, len(t.Variables))
		for _, v := range t.Variables {
			switch v.Kind {
			case model.VariableContinuous:
				values[v.Name] = v.Min + rng.Float64()*(v.Max-v.Min)
			case model.VariableDiscrete:
				values[v.Name] = v.Options[rng.Intn(len(v.Options))]
			case model.VariableBinary:
				values[v.Name] = float64(rng.Intn(2))
			}
		}
		out = append(out, values)
	}
	return out
}

// Validate returns every constraint and rule the solution violates. A
// variable missing from the solution counts as a violation of each
// constraint that references it.
func (t *Template) Validate(values Values) []Violation {
	var violations []Violation
	for _, c := range t.Constraints {
		v, ok := values[c.Variable]
		if !ok {
			violations = append(violations, Violation{Variable: c.Variable, Description: "missing required variable " + c.Variable})
			continue
		}
		if !satisfied(c, v) {
			violations = append(violations, Violation{Variable: c.Variable, Description: describe(c), Value: v})
		}
	}
	for _, r := range t.Rules {
		if r.Violated(values) {
			violations = append(violations, Violation{Description: r.Description})
		}
	}
	return violations
}

func satisfied(c model.ConstraintSpec, v float64) bool {
	switch c.Kind {
	case model.ConstraintRange:
		return v >= c.Min && v <= c.Max
	case model.ConstraintEquality:
		return math.Abs(v-c.Value) <= c.Tolerance
	case model.ConstraintMinimum:
		return v >= c.Min
	case model.ConstraintMaximum:
		return v <= c.Max
	default:
		return true
	}
}

func describe(c model.ConstraintSpec) string {
	if c.Description != "" {
		return c.Description
	}
	switch c.Kind {
	case model.ConstraintRange:
		return fmt.Sprintf("%s must be between %g and %g", c.Variable, c.Min, c.Max)
	case model.ConstraintEquality:
		return fmt.Sprintf("%s must equal %g ± %g", c.Variable, c.Value, c.Tolerance)
	case model.ConstraintMinimum:
		return fmt.Sprintf("%s must be at least %g", c.Variable, c.Min)
	default:
		return fmt.Sprintf("%s must be at most %g", c.Variable, c.Max)
	}
}

// PreferredKinds orders the shipped attractor kinds by descending
// preference weight. Ties and unweighted kinds keep registration order.
func (t *Template) PreferredKinds() []attractor.Kind {
	kinds := attractor.Kinds()
	if len(t.Preferences) == 0 {
		return kinds
	}
	sort.SliceStable(kinds, func(i, j int) bool {
		return t.Preferences[kinds[i]] > t.Preferences[kinds[j]]
	})
	return kinds
}

// Dimensions is the attractor dimension needed to give every variable its
// own state component.
func (t *Template) Dimensions() int {
	if len(t.Variables) < 3 {
		return 3
	}
	return len(t.Variables)
}
