// Package evaluate scores candidate solutions. The search always maximizes,
// so minimized objectives are negated.
package evaluate

import (
	"bottleneck/internal/domain"
	"bottleneck/internal/model"
)

// ViolationPenalty is subtracted from the objective per violated constraint
// or rule.
const ViolationPenalty = 100.0

func ObjectiveValue(values domain.Values, t *domain.Template) float64 {
	v := t.Objective.Score(values)
	if t.Objective.Direction == model.Minimize {
		return -v
	}
	return v
}

func Score(values domain.Values, t *domain.Template) float64 {
	return ObjectiveValue(values, t) - ViolationPenalty*float64(len(t.Validate(values)))
}

// Breakdown is a scored solution with the violations that penalized it.
type Breakdown struct {
	Objective  float64            `json:"objective"`
	Penalty    float64            `json:"penalty"`
	Score      float64            `json:"score"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func Explain(values domain.Values, t *domain.Template) Breakdown {
	violations := t.Validate(values)
	objective := ObjectiveValue(values, t)
	penalty := ViolationPenalty * float64(len(violations))
	return Breakdown{
		Objective:  objective,
		Penalty:    penalty,
		Score:      objective - penalty,
		Violations: violations,
	}
}
