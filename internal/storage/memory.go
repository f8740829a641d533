package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"bottleneck/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	bottlenecks map[string]model.Bottleneck
	runs        map[string]model.ExplorationRun
	checkpoints map[string][]model.Checkpoint
	solutions   map[string]model.Solution
	plans       map[string]model.DeploymentPlan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.bottlenecks = make(map[string]model.Bottleneck)
	s.runs = make(map[string]model.ExplorationRun)
	s.checkpoints = make(map[string][]model.Checkpoint)
	s.solutions = make(map[string]model.Solution)
	s.plans = make(map[string]model.DeploymentPlan)
	return nil
}

func (s *MemoryStore) ready() error {
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	return nil
}

func (s *MemoryStore) SaveBottleneck(_ context.Context, def model.Definition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}

	b := newBottleneck(def)
	s.bottlenecks[b.ID] = b
	return b.ID, nil
}

func (s *MemoryStore) GetBottleneck(_ context.Context, id string) (model.Bottleneck, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bottlenecks[id]
	return b, ok, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, bottleneckID, strategy string, iterationBudget int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}

	run := newRun(bottleneckID, strategy, iterationBudget)
	s.runs[run.ID] = run
	return run.ID, nil
}

func (s *MemoryStore) StartRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return missing("run", runID)
	}
	if err := startRun(&run); err != nil {
		return err
	}
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, runID string, outcome RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return missing("run", runID)
	}
	if err := completeRun(&run, outcome); err != nil {
		return err
	}
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.ExplorationRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return model.ExplorationRun{}, false, nil
	}
	run.FinalState = append([]float64(nil), run.FinalState...)
	return run, true, nil
}

func (s *MemoryStore) GetRunHistory(_ context.Context, bottleneckID string) ([]model.ExplorationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []model.ExplorationRun
	for _, run := range s.runs {
		if run.BottleneckID != bottleneckID {
			continue
		}
		run.FinalState = append([]float64(nil), run.FinalState...)
		history = append(history, run)
	}
	sortNewestFirst(history)
	return history, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	s.checkpoints[checkpoint.RunID] = append(s.checkpoints[checkpoint.RunID], stampCheckpoint(checkpoint))
	return nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, runID string) ([]model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.checkpoints[runID]
	copied := make([]model.Checkpoint, 0, len(stored))
	for _, c := range stored {
		c.State = append([]float64(nil), c.State...)
		copied = append(copied, c)
	}
	sortCheckpoints(copied)
	return copied, nil
}

func (s *MemoryStore) SaveSolution(_ context.Context, solution model.Solution) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}

	solution = stampSolution(solution)
	s.solutions[solution.ID] = solution
	return solution.ID, nil
}

func (s *MemoryStore) GetSolution(_ context.Context, id string) (model.Solution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	solution, ok := s.solutions[id]
	if !ok {
		return model.Solution{}, false, nil
	}
	return stampSolution(solution), true, nil
}

func (s *MemoryStore) SaveDeploymentPlan(_ context.Context, plan model.DeploymentPlan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}

	plan = stampDeploymentPlan(plan)
	s.plans[plan.ID] = plan
	return plan.ID, nil
}

func (s *MemoryStore) GetDeploymentPlan(_ context.Context, id string) (model.DeploymentPlan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	return plan, ok, nil
}

func sortNewestFirst(runs []model.ExplorationRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

func sortCheckpoints(checkpoints []model.Checkpoint) {
	sort.SliceStable(checkpoints, func(i, j int) bool {
		if checkpoints[i].Attractor != checkpoints[j].Attractor {
			return checkpoints[i].Attractor < checkpoints[j].Attractor
		}
		return checkpoints[i].Iteration < checkpoints[j].Iteration
	})
}
