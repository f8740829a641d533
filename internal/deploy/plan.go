// Package deploy turns a resolution into a staged deployment plan.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bottleneck/internal/domain"
	"bottleneck/internal/model"
	"bottleneck/internal/resolver"
	"bottleneck/internal/storage"
)

var ErrNoSolution = errors.New("deploy: result has no solution")

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"

	RiskHigh   = "high"
	RiskMedium = "medium"

	// spreadTolerance is the largest score spread across attractors, as a
	// fraction of the mean score, that does not count as a risk.
	spreadTolerance = 0.5
)

var defaultAction = model.DeploymentAction{
	Type:        "implementation",
	Description: "Deploy optimized solution parameters",
	Priority:    PriorityMedium,
}

// Build assembles the plan for result. t supplies the domain's action specs
// and may be nil.
func Build(result *resolver.Result, t *domain.Template) (model.DeploymentPlan, error) {
	if result == nil || result.Best.Values == nil {
		return model.DeploymentPlan{}, ErrNoSolution
	}

	plan := model.DeploymentPlan{
		RunID:           result.RunID,
		BottleneckID:    result.BottleneckID,
		Solution:        result.Best.Values.Clone(),
		Score:           result.Best.Score,
		Actions:         Actions(result.Best.Values, t),
		Risks:           Risks(result),
		Phases:          Phases(),
		SuccessCriteria: SuccessCriteria(),
		TotalIterations: result.Ensemble.TotalIterations(),
	}
	for _, b := range result.Ensemble.Branches {
		plan.AttractorsUsed = append(plan.AttractorsUsed, string(b.Attractor))
	}
	return plan, nil
}

func Actions(values domain.Values, t *domain.Template) []model.DeploymentAction {
	if t == nil || len(t.Actions) == 0 {
		return []model.DeploymentAction{defaultAction}
	}
	actions := make([]model.DeploymentAction, 0, len(t.Actions))
	for _, a := range t.Actions {
		actions = append(actions, model.DeploymentAction{
			Type:        a.Type,
			Description: a.Describe(values),
			Priority:    a.Priority,
		})
	}
	return actions
}

// Risks flags unstable ensembles, runs that never converged and runs cut
// short by their time budget.
func Risks(result *resolver.Result) []model.DeploymentRisk {
	var risks []model.DeploymentRisk
	ens := result.Ensemble
	if ens.MaxScore-ens.MinScore > math.Abs(ens.AvgScore)*spreadTolerance {
		risks = append(risks, model.DeploymentRisk{
			Level:       RiskHigh,
			Description: "High variance in solution quality across attractors",
			Mitigation:  "Validate solution through additional testing",
		})
	}
	if !ens.Converged {
		risks = append(risks, model.DeploymentRisk{
			Level:       RiskMedium,
			Description: "Solution did not fully converge",
			Mitigation:  "Monitor performance and be prepared to adjust",
		})
	}
	if result.TimedOut {
		risks = append(risks, model.DeploymentRisk{
			Level:       RiskMedium,
			Description: fmt.Sprintf("Exploration stopped at its time budget after %d iterations", ens.TotalIterations()),
			Mitigation:  "Re-run with a longer timeout before full rollout",
		})
	}
	return risks
}

func Phases() []model.ScalingPhase {
	return []model.ScalingPhase{
		{Name: "Pilot", Scale: "10%", Duration: "1 month", Metrics: []string{"performance", "stability"}},
		{Name: "Scale", Scale: "50%", Duration: "3 months", Metrics: []string{"efficiency", "cost_savings"}},
		{Name: "Full Deployment", Scale: "100%", Duration: "6 months", Metrics: []string{"roi", "impact"}},
	}
}

func SuccessCriteria() []string {
	return []string{
		"Performance improvement > 10%",
		"Cost reduction > 5%",
		"No critical failures",
	}
}

// Planner builds plans and records them in a store.
type Planner struct {
	store   storage.Store
	catalog *domain.Catalog
}

func NewPlanner(store storage.Store, catalog *domain.Catalog) *Planner {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return &Planner{store: store, catalog: catalog}
}

// Plan builds and saves the plan for result. The template is resolved from
// the result's bottleneck definition.
func (p *Planner) Plan(ctx context.Context, result *resolver.Result) (model.DeploymentPlan, error) {
	t, err := p.catalog.Resolve(result.Bottleneck)
	if err != nil {
		return model.DeploymentPlan{}, fmt.Errorf("resolve template: %w", err)
	}
	plan, err := Build(result, t)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	if p.store == nil {
		plan.Status = "planned"
		return plan, nil
	}
	id, err := p.store.SaveDeploymentPlan(ctx, plan)
	if err != nil {
		return model.DeploymentPlan{}, fmt.Errorf("save deployment plan: %w", err)
	}
	saved, ok, err := p.store.GetDeploymentPlan(ctx, id)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	if !ok {
		return model.DeploymentPlan{}, fmt.Errorf("deployment plan %s: %w", id, storage.ErrNotFound)
	}
	return saved, nil
}
