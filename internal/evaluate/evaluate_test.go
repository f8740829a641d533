package evaluate

import (
	"math"
	"math/rand"
	"testing"

	"bottleneck/internal/domain"
	"bottleneck/internal/model"
)

func singleVariable(t *testing.T, direction model.Direction, constraints ...model.ConstraintSpec) *domain.Template {
	t.Helper()
	tmpl, err := domain.FromDefinition(model.Definition{
		Name:        "single",
		Variables:   []model.VariableSpec{{Name: "x", Kind: model.VariableContinuous, Min: 0, Max: 10}},
		Constraints: constraints,
		Objective:   model.ObjectiveSpec{Direction: direction},
	})
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	return tmpl
}

func TestScoreMaximize(t *testing.T) {
	tmpl := singleVariable(t, model.Maximize)
	if got := Score(domain.Values{"x": 7}, tmpl); got != 7 {
		t.Fatalf("unexpected score: %f", got)
	}
}

func TestScoreMinimizeIsNegated(t *testing.T) {
	tmpl := singleVariable(t, model.Minimize)
	if got := Score(domain.Values{"x": 7}, tmpl); got != -7 {
		t.Fatalf("unexpected score: %f", got)
	}
	if Score(domain.Values{"x": 1}, tmpl) <= Score(domain.Values{"x": 2}, tmpl) {
		t.Fatal("expected smaller x to score higher when minimizing")
	}
}

func TestScorePenalizesViolations(t *testing.T) {
	tmpl := singleVariable(t, model.Maximize,
		model.ConstraintSpec{Variable: "x", Kind: model.ConstraintMaximum, Max: 5},
		model.ConstraintSpec{Variable: "x", Kind: model.ConstraintEquality, Value: 3, Tolerance: 0.5},
	)
	b := Explain(domain.Values{"x": 8}, tmpl)
	if len(b.Violations) != 2 {
		t.Fatalf("expected two violations, got %+v", b.Violations)
	}
	if b.Score != 8-2*ViolationPenalty || b.Penalty != 2*ViolationPenalty {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
	if got := Score(domain.Values{"x": 3.2}, tmpl); math.Abs(got-3.2) > 1e-12 {
		t.Fatalf("expected unpenalized score, got %f", got)
	}
}

func TestScoreShippedTemplates(t *testing.T) {
	catalog := domain.DefaultCatalog()
	for i, name := range catalog.Names() {
		tmpl, err := catalog.Get(name)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		for _, values := range tmpl.GenerateInitialConditions(rand.New(rand.NewSource(int64(i))), 20) {
			s := Score(values, tmpl)
			if math.IsNaN(s) || math.IsInf(s, 0) {
				t.Fatalf("%s: non-finite score for %v", name, values)
			}
			if s > ObjectiveValue(values, tmpl) {
				t.Fatalf("%s: score exceeds objective", name)
			}
		}
	}
}
