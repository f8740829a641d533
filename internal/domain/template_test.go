package domain

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"bottleneck/internal/attractor"
	"bottleneck/internal/model"
)

func mixedTemplate(t *testing.T) *Template {
	t.Helper()
	tmpl, err := FromDefinition(model.Definition{
		Name: "mixed",
		Variables: []model.VariableSpec{
			{Name: "rate", Kind: model.VariableContinuous, Min: -2, Max: 6},
			{Name: "tier", Kind: model.VariableDiscrete, Options: []float64{1, 2, 4, 8}},
			{Name: "enabled", Kind: model.VariableBinary},
			{Name: "budget", Kind: model.VariableContinuous, Min: 100, Max: 200},
		},
		Objective: model.ObjectiveSpec{Direction: model.Maximize},
	})
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	return tmpl
}

func TestMapStateRoundTrip(t *testing.T) {
	tmpl := mixedTemplate(t)
	rng := rand.New(rand.NewSource(1))
	const span = 20.0
	for i := 0; i < 200; i++ {
		state := attractor.State{
			(rng.Float64()*2 - 1) * span,
			(rng.Float64()*2 - 1) * span,
			(rng.Float64()*2 - 1) * span,
			(rng.Float64()*2 - 1) * span,
		}
		values := tmpl.MapState(state, span)
		back := tmpl.StateFor(values, span, len(state), rng)
		for _, j := range []int{0, 3} {
			if math.Abs(back[j]-state[j]) > 1e-9 {
				t.Fatalf("continuous component %d: got=%f want=%f", j, back[j], state[j])
			}
		}
		again := tmpl.MapState(back, span)
		for name, v := range values {
			if math.Abs(again[name]-v) > 1e-9 {
				t.Fatalf("%s changed across round trip: %f -> %f", name, v, again[name])
			}
		}
	}
}

func TestMapStateSaturatesOutsideSpan(t *testing.T) {
	tmpl := mixedTemplate(t)
	values := tmpl.MapState(attractor.State{90, -90, 0.5, -3}, 12)
	if values["rate"] != 6 {
		t.Fatalf("expected rate to saturate at max, got %f", values["rate"])
	}
	if values["tier"] != 1 {
		t.Fatalf("expected lowest tier, got %f", values["tier"])
	}
	if values["enabled"] != 1 {
		t.Fatalf("expected positive component to enable, got %f", values["enabled"])
	}
	if values["budget"] != 150-50*3.0/12 {
		t.Fatalf("unexpected budget: %f", values["budget"])
	}
}

func TestMapStateWrapsComponents(t *testing.T) {
	tmpl := mixedTemplate(t)
	values := tmpl.MapState(attractor.State{10, -10, 10}, 10)
	if values["budget"] != 200 {
		t.Fatalf("expected fourth variable to read component 0, got %f", values["budget"])
	}
	if len(values) != len(tmpl.Variables) {
		t.Fatalf("solution must cover every variable, got %v", values)
	}
}

func TestStateForFillsUncoveredComponents(t *testing.T) {
	tmpl, err := FromDefinition(model.Definition{
		Name:      "x",
		Variables: []model.VariableSpec{{Name: "x", Min: 0, Max: 10}},
	})
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	state := tmpl.StateFor(Values{"x": 10}, 20, tmpl.Dimensions(), rand.New(rand.NewSource(3)))
	if len(state) != 3 {
		t.Fatalf("expected 3 components, got %d", len(state))
	}
	if state[0] != 20 {
		t.Fatalf("expected x=max to map to +span, got %f", state[0])
	}
	for _, v := range state[1:] {
		if math.Abs(v) >= seedMagnitude || v == 0 {
			t.Fatalf("expected small random filler, got %f", v)
		}
	}
}

func TestGenerateInitialConditionsRespectsBounds(t *testing.T) {
	tmpl := mixedTemplate(t)
	for _, values := range tmpl.GenerateInitialConditions(rand.New(rand.NewSource(9)), 100) {
		if len(values) != len(tmpl.Variables) {
			t.Fatalf("unexpected variable set: %v", values)
		}
		if values["rate"] < -2 || values["rate"] > 6 {
			t.Fatalf("rate out of bounds: %f", values["rate"])
		}
		switch values["tier"] {
		case 1, 2, 4, 8:
		default:
			t.Fatalf("tier not an option: %f", values["tier"])
		}
		if values["enabled"] != 0 && values["enabled"] != 1 {
			t.Fatalf("binary out of range: %f", values["enabled"])
		}
	}
}

func TestValidateConstraintsAndRules(t *testing.T) {
	tmpl := SupplyChain()
	good := Values{
		"inventory_levels":         15000,
		"reorder_point":            2000,
		"transport_capacity":       60,
		"warehouse_utilization":    0.7,
		"supplier_diversity":       0.5,
		"demand_forecast_accuracy": 0.85,
	}
	if v := tmpl.Validate(good); len(v) != 0 {
		t.Fatalf("expected feasible solution, got %+v", v)
	}

	bad := good.Clone()
	bad["supplier_diversity"] = 0.1
	bad["reorder_point"] = 14000
	violations := tmpl.Validate(bad)
	if len(violations) != 3 {
		t.Fatalf("expected diversity, reorder range and reorder rule violations, got %+v", violations)
	}

	missing := good.Clone()
	delete(missing, "inventory_levels")
	found := false
	for _, v := range tmpl.Validate(missing) {
		if v.Variable == "inventory_levels" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected missing variable to be reported")
	}
}

func TestCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	names := catalog.Names()
	if len(names) != 3 || names[0] != "climate" || names[2] != "supply_chain" {
		t.Fatalf("unexpected catalog: %v", names)
	}
	if _, err := catalog.Get("finance"); !errors.Is(err, ErrUnknownDomain) {
		t.Fatalf("expected unknown domain, got %v", err)
	}

	tmpl, err := catalog.Resolve(model.Definition{Domain: "healthcare"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if kinds := tmpl.PreferredKinds(); kinds[0] != attractor.KindChen {
		t.Fatalf("expected chen preferred for healthcare, got %v", kinds)
	}
	if _, err := catalog.Resolve(model.Definition{Name: "empty"}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected invalid definition, got %v", err)
	}
}

func TestFromDefinitionRejectsBadInput(t *testing.T) {
	cases := map[string]model.Definition{
		"no variables":    {Name: "a"},
		"inverted bounds": {Name: "b", Variables: []model.VariableSpec{{Name: "x", Min: 5, Max: 1}}},
		"no options":      {Name: "c", Variables: []model.VariableSpec{{Name: "x", Kind: model.VariableDiscrete}}},
		"duplicate":       {Name: "d", Variables: []model.VariableSpec{{Name: "x", Max: 1}, {Name: "x", Max: 1}}},
		"unknown constraint variable": {Name: "e", Variables: []model.VariableSpec{{Name: "x", Max: 1}},
			Constraints: []model.ConstraintSpec{{Variable: "y", Kind: model.ConstraintMinimum}}},
		"unknown weight": {Name: "f", Variables: []model.VariableSpec{{Name: "x", Max: 1}},
			Objective: model.ObjectiveSpec{Weights: map[string]float64{"y": 2}}},
	}
	for name, def := range cases {
		if _, err := FromDefinition(def); !errors.Is(err, ErrInvalidDefinition) {
			t.Fatalf("%s: expected invalid definition, got %v", name, err)
		}
	}
}

func TestFromDefinitionWeights(t *testing.T) {
	tmpl, err := FromDefinition(model.Definition{
		Name: "weighted",
		Variables: []model.VariableSpec{
			{Name: "a", Max: 1},
			{Name: "b", Max: 1},
		},
		Objective: model.ObjectiveSpec{Weights: map[string]float64{"b": -3}},
	})
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	if tmpl.Objective.Direction != model.Maximize {
		t.Fatalf("expected default maximize, got %s", tmpl.Objective.Direction)
	}
	if got := tmpl.Objective.Score(Values{"a": 2, "b": 1}); got != -1 {
		t.Fatalf("unexpected objective: %f", got)
	}
}

func TestLoadDefinitionYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "def.yaml")
	yamlDoc := `name: throughput
variables:
  - name: x
    kind: continuous
    min: 0
    max: 10
constraints:
  - variable: x
    kind: minimum
    min: 1
objective:
  direction: maximize
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	def, err := LoadDefinition(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if def.Name != "throughput" || len(def.Variables) != 1 || def.Constraints[0].Kind != model.ConstraintMinimum {
		t.Fatalf("unexpected definition: %+v", def)
	}

	jsonPath := filepath.Join(dir, "def.json")
	if err := os.WriteFile(jsonPath, []byte(`{"domain":"climate"}`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	def, err = LoadDefinition(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if def.Name != "climate" || def.Domain != "climate" {
		t.Fatalf("unexpected definition: %+v", def)
	}

	if _, err := ParseDefinition([]byte(`{"nme":"typo"}`), ".json"); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}
}

func TestDefaultPresetsResolve(t *testing.T) {
	for domainName, byKind := range DefaultPresets() {
		for kind, preset := range byKind {
			if _, err := attractor.Preset(kind, preset); err != nil {
				t.Fatalf("%s: preset %s/%s: %v", domainName, kind, preset, err)
			}
		}
	}
}
