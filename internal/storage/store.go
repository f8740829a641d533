package storage

import (
	"context"
	"errors"

	"bottleneck/internal/model"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrPersistence = errors.New("persistence failure")
)

// RunOutcome is the terminal state a run is completed with.
type RunOutcome struct {
	Status       model.RunStatus
	FinalState   []float64
	FinalFitness float64
	Diagnostics  map[string]any
}

// Store persists bottlenecks, exploration runs, checkpoints, solutions and
// deployment plans. Implementations serialize concurrent writes internally.
type Store interface {
	Init(ctx context.Context) error
	SaveBottleneck(ctx context.Context, def model.Definition) (string, error)
	GetBottleneck(ctx context.Context, id string) (model.Bottleneck, bool, error)
	CreateRun(ctx context.Context, bottleneckID, strategy string, iterationBudget int) (string, error)
	StartRun(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, outcome RunOutcome) error
	GetRun(ctx context.Context, runID string) (model.ExplorationRun, bool, error)
	// GetRunHistory lists a bottleneck's runs, newest first.
	GetRunHistory(ctx context.Context, bottleneckID string) ([]model.ExplorationRun, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	// ListCheckpoints returns a run's checkpoints ordered by attractor, then
	// iteration.
	ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error)
	SaveSolution(ctx context.Context, solution model.Solution) (string, error)
	GetSolution(ctx context.Context, id string) (model.Solution, bool, error)
	SaveDeploymentPlan(ctx context.Context, plan model.DeploymentPlan) (string, error)
	GetDeploymentPlan(ctx context.Context, id string) (model.DeploymentPlan, bool, error)
}
