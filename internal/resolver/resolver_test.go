package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"bottleneck/internal/attractor"
	"bottleneck/internal/domain"
	"bottleneck/internal/model"
	"bottleneck/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func throughput() model.Definition {
	return model.Definition{
		Name:      "throughput",
		Variables: []model.VariableSpec{{Name: "x", Kind: model.VariableContinuous, Min: 0, Max: 10}},
		Objective: model.ObjectiveSpec{Direction: model.Maximize},
	}
}

func newTestEngine(t *testing.T, store storage.Store, cfg Config) *Engine {
	t.Helper()
	if store != nil {
		if err := store.Init(context.Background()); err != nil {
			t.Fatalf("init store: %v", err)
		}
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	cfg.Logger = quietLogger()
	return New(store, nil, cfg)
}

func TestResolveParallelPicksEnsembleMaximum(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyParallel,
		MaxIterations:        200,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ens := res.Ensemble
	if len(ens.Branches) != 2 || ens.KindsRun != 2 {
		t.Fatalf("expected two branches, got %+v", ens)
	}
	if ens.MaxScore < ens.MinScore || ens.AvgScore < ens.MinScore || ens.AvgScore > ens.MaxScore {
		t.Fatalf("inconsistent ensemble stats: %+v", ens)
	}
	if res.Best.Score != ens.MaxScore {
		t.Fatalf("expected best score %f to equal ensemble max %f", res.Best.Score, ens.MaxScore)
	}
	if res.Status != model.RunExhausted {
		t.Fatalf("expected exhausted status, got %s", res.Status)
	}
	x := res.Best.Values["x"]
	if x < 0 || x > 10 {
		t.Fatalf("best value out of range: %f", x)
	}
}

func TestResolveSequentialStopsAtFirstConvergence(t *testing.T) {
	e := newTestEngine(t, nil, Config{Warmup: -1})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategySequential,
		MaxIterations:        50,
		ConvergenceThreshold: -1,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Ensemble.KindsRun != 1 {
		t.Fatalf("expected one kind to run, got %d", res.Ensemble.KindsRun)
	}
	if res.Status != model.RunConverged {
		t.Fatalf("expected converged, got %s", res.Status)
	}
	if got := res.Ensemble.Branches[0].Iterations; got != 1 {
		t.Fatalf("expected convergence on the first iteration, got %d", got)
	}
}

func TestResolveZeroIterationsEvaluatesSeedOnly(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	for _, strategy := range []Strategy{StrategyParallel, StrategySequential, StrategyAdaptive} {
		res, err := e.Resolve(context.Background(), throughput(), Options{
			Strategy:             strategy,
			MaxIterations:        0,
			ConvergenceThreshold: 1e9,
		})
		if err != nil {
			t.Fatalf("%s: resolve: %v", strategy, err)
		}
		if res.Status != model.RunExhausted {
			t.Fatalf("%s: expected exhausted, got %s", strategy, res.Status)
		}
		if total := res.Ensemble.TotalIterations(); total != 0 {
			t.Fatalf("%s: expected no iterations, got %d", strategy, total)
		}
		if res.Best.Values == nil || res.Best.Iteration != 0 {
			t.Fatalf("%s: expected seed solution, got %+v", strategy, res.Best)
		}
	}
}

func TestResolveEndToEndConverges(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, Config{})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyParallel,
		MaxIterations:        5000,
		ConvergenceThreshold: 9.0,
		Kinds:                []attractor.Kind{attractor.KindLorenz},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != model.RunConverged {
		t.Fatalf("expected convergence, got %s (best %f)", res.Status, res.Best.Score)
	}
	if x := res.Best.Values["x"]; x < 9.0-0.5 || x > 10 {
		t.Fatalf("expected x within [8.5, 10], got %f", x)
	}

	run, ok, err := store.GetRun(context.Background(), res.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.Status != model.RunConverged || run.FinalFitness != res.Best.Score || run.CompletedAt.IsZero() {
		t.Fatalf("unexpected persisted run: %+v", run)
	}
	sol, ok, err := store.GetSolution(context.Background(), res.Best.ID)
	if err != nil || !ok {
		t.Fatalf("get solution: ok=%v err=%v", ok, err)
	}
	if sol.RunID != res.RunID || sol.Values["x"] != res.Best.Values["x"] {
		t.Fatalf("unexpected persisted solution: %+v", sol)
	}
	history, err := e.History(context.Background(), res.BottleneckID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != res.RunID {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestResolveCheckpointsIncrease(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, Config{CheckpointInterval: 10})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        100,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindRossler},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Ensemble.Branches) != 2 {
		t.Fatalf("expected phases merged per kind, got %d branches", len(res.Ensemble.Branches))
	}
	for _, b := range res.Ensemble.Branches {
		if b.Iterations != 100 {
			t.Fatalf("%s: expected 100 iterations across phases, got %d", b.Attractor, b.Iterations)
		}
		if len(b.Checkpoints) != 10 {
			t.Fatalf("%s: expected 10 checkpoints, got %v", b.Attractor, b.Checkpoints)
		}
		for i := 1; i < len(b.Checkpoints); i++ {
			if b.Checkpoints[i] <= b.Checkpoints[i-1] {
				t.Fatalf("%s: checkpoints not increasing: %v", b.Attractor, b.Checkpoints)
			}
		}
		if last := b.Checkpoints[len(b.Checkpoints)-1]; last > 100 {
			t.Fatalf("%s: checkpoint %d beyond budget", b.Attractor, last)
		}
	}

	stored, err := store.ListCheckpoints(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(stored) != 20 {
		t.Fatalf("expected 20 stored checkpoints, got %d", len(stored))
	}
}

func TestResolveTimeoutReturnsBestSoFar(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyParallel,
		MaxIterations:        math.MaxInt32,
		ConvergenceThreshold: 1e9,
		Timeout:              20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.TimedOut || res.Status != model.RunTimedOut {
		t.Fatalf("expected timed out result, got status=%s timed_out=%v", res.Status, res.TimedOut)
	}
	if math.IsNaN(res.Best.Score) || math.IsInf(res.Best.Score, 0) || res.Best.Values == nil {
		t.Fatalf("expected finite best solution, got %+v", res.Best)
	}
}

func TestResolveCanceledParentFails(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Resolve(ctx, throughput(), Options{Strategy: StrategyParallel, MaxIterations: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

var errBranch = errors.New("numerical divergence")

func failOn(kind attractor.Kind, e *Engine) {
	inner := e.exploreFn
	e.exploreFn = func(ctx context.Context, b branch) (BranchResult, error) {
		if b.kind == kind {
			return BranchResult{Attractor: kind, Status: model.RunFailed}, errBranch
		}
		return inner(ctx, b)
	}
}

func TestParallelIsolatesBranchFailure(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	failOn(attractor.KindChen, e)
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyParallel,
		MaxIterations:        50,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	chen := res.Ensemble.Branches[1]
	if !chen.Failed() || chen.Error == "" {
		t.Fatalf("expected failed chen branch, got %+v", chen)
	}
	if res.Best.Attractor != attractor.KindLorenz {
		t.Fatalf("expected lorenz best, got %s", res.Best.Attractor)
	}
}

func TestParallelAllBranchesFailed(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	failOn(attractor.KindLorenz, e)
	_, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:      StrategyParallel,
		MaxIterations: 50,
		Kinds:         []attractor.Kind{attractor.KindLorenz},
	})
	if !errors.Is(err, ErrAllBranchesFailed) {
		t.Fatalf("expected ErrAllBranchesFailed, got %v", err)
	}
}

func TestSequentialPropagatesFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, Config{})
	failOn(attractor.KindChen, e)
	_, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategySequential,
		MaxIterations:        50,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if err == nil {
		t.Fatal("expected sequential failure to propagate")
	}
}

func TestAdaptiveStopsWhenSurveyBeatsThreshold(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        200,
		ConvergenceThreshold: -1,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// the survey gets 60 iterations per kind, below the warm-up
	if len(res.Ensemble.Branches) != 2 {
		t.Fatalf("expected survey branches only, got %d", len(res.Ensemble.Branches))
	}
	for _, b := range res.Ensemble.Branches {
		if b.Iterations != 60 {
			t.Fatalf("%s: expected 60 survey iterations and no refinement, got %d", b.Attractor, b.Iterations)
		}
	}
	if total := res.Ensemble.TotalIterations(); total != 120 {
		t.Fatalf("expected 120 iterations in total, got %d", total)
	}
	if res.Status != model.RunConverged || !res.Ensemble.Converged {
		t.Fatalf("expected converged run, got status=%s ensemble=%+v", res.Status, res.Ensemble)
	}
}

func TestAdaptiveRefinesFromSurveyBest(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	var (
		mu    sync.Mutex
		calls []branch
	)
	e.exploreFn = func(_ context.Context, b branch) (BranchResult, error) {
		mu.Lock()
		calls = append(calls, b)
		mu.Unlock()
		score := 1.0
		if b.offset == 0 && b.kind == attractor.KindChen {
			score = 5
		}
		best := Solution{Values: domain.Values{"x": score}, Score: score, Attractor: b.kind, Iteration: b.offset + 1}
		if b.carry != nil && b.carry.Score > score {
			best = b.carry.clone()
		}
		return BranchResult{Attractor: b.kind, Status: model.RunExhausted, Best: best, Iterations: b.iterations}, nil
	}

	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        100,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var refined []branch
	for _, b := range calls {
		if b.offset == 0 {
			if b.iterations != 30 || b.carry != nil {
				t.Fatalf("%s: unexpected survey branch: iterations=%d carry=%v", b.kind, b.iterations, b.carry)
			}
			continue
		}
		refined = append(refined, b)
	}
	if len(refined) != 2 {
		t.Fatalf("expected two refinement branches, got %d", len(refined))
	}
	for _, b := range refined {
		if b.offset != 30 || b.iterations != 70 {
			t.Fatalf("%s: expected 70 iterations from offset 30, got %d from %d", b.kind, b.iterations, b.offset)
		}
		if b.carry == nil || b.carry.Attractor != attractor.KindChen || b.carry.Values["x"] != 5 {
			t.Fatalf("%s: expected refinement seeded with the chen survey best, got %+v", b.kind, b.carry)
		}
	}
	if res.Best.Attractor != attractor.KindChen || res.Best.Score != 5 {
		t.Fatalf("expected chen survey best to stand, got %+v", res.Best)
	}
	for _, b := range res.Ensemble.Branches {
		if b.Iterations != 100 {
			t.Fatalf("%s: expected 100 iterations across phases, got %d", b.Attractor, b.Iterations)
		}
	}
}

func TestAdaptivePropagatesFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, Config{})
	failOn(attractor.KindChen, e)
	var (
		mu      sync.Mutex
		refined int
	)
	inner := e.exploreFn
	e.exploreFn = func(ctx context.Context, b branch) (BranchResult, error) {
		if b.offset > 0 {
			mu.Lock()
			refined++
			mu.Unlock()
		}
		return inner(ctx, b)
	}

	_, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        100,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz, attractor.KindChen},
	})
	if !errors.Is(err, errBranch) {
		t.Fatalf("expected branch failure to abort the run, got %v", err)
	}
	if refined != 0 {
		t.Fatalf("expected no refinement after a failed survey, got %d branches", refined)
	}

	runID, _, _ := strings.Cut(strings.TrimPrefix(err.Error(), "run "), ":")
	run, ok, getErr := store.GetRun(context.Background(), runID)
	if getErr != nil || !ok {
		t.Fatalf("get run %q: ok=%v err=%v", runID, ok, getErr)
	}
	if run.Status != model.RunFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
}

func TestSequentialCarryKeepsProvenance(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	tmpl, err := domain.FromDefinition(throughput())
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	r := resolution{runID: "run-1", template: tmpl, threshold: 1e9, seed: 42}
	b := r.branch(attractor.KindChen, 20, 0)
	b.carry = &Solution{
		Values:    domain.Values{"x": 9.5},
		Score:     1e6,
		Attractor: attractor.KindLorenz,
		Iteration: 12,
	}

	res, err := e.runBranch(context.Background(), b)
	if err != nil {
		t.Fatalf("run branch: %v", err)
	}
	if res.Best.Attractor != attractor.KindLorenz || res.Best.Iteration != 12 || res.Best.Score != 1e6 {
		t.Fatalf("expected carried solution untouched, got %+v", res.Best)
	}
	if res.Iterations != 20 {
		t.Fatalf("expected the branch to run its budget, got %d", res.Iterations)
	}
}

type flakyStore struct {
	storage.Store
}

func (flakyStore) SaveCheckpoint(context.Context, model.Checkpoint) error {
	return storage.ErrPersistence
}

func (flakyStore) SaveSolution(context.Context, model.Solution) (string, error) {
	return "", storage.ErrPersistence
}

func TestPersistenceFailuresBecomeWarnings(t *testing.T) {
	e := newTestEngine(t, flakyStore{Store: storage.NewMemoryStore()}, Config{CheckpointInterval: 5})
	res, err := e.Resolve(context.Background(), throughput(), Options{
		Strategy:             StrategyParallel,
		MaxIterations:        20,
		ConvergenceThreshold: 1e9,
		Kinds:                []attractor.Kind{attractor.KindLorenz},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// four checkpoint writes and one solution write
	if len(res.Warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %v", res.Warnings)
	}
	if res.Best.ID != "" {
		t.Fatalf("unsaved solution should carry no id, got %s", res.Best.ID)
	}
}

func TestTemplatePresetOverridesConfig(t *testing.T) {
	tmpl, err := domain.FromDefinition(throughput())
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	tmpl.Presets = map[attractor.Kind]string{attractor.KindRossler: "standard"}
	e := newTestEngine(t, nil, Config{Presets: map[string]map[attractor.Kind]string{
		"throughput": {attractor.KindRossler: "high_chaos", attractor.KindLorenz: "classic"},
	}})

	got, err := e.params(tmpl, attractor.KindRossler)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	want, _ := attractor.Preset(attractor.KindRossler, "standard")
	if got != want {
		t.Fatalf("expected template preset %+v, got %+v", want, got)
	}

	got, err = e.params(tmpl, attractor.KindLorenz)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	want, _ = attractor.Preset(attractor.KindLorenz, "classic")
	if got != want {
		t.Fatalf("expected configured preset %+v, got %+v", want, got)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	if _, err := e.Resolve(context.Background(), throughput(), Options{Strategy: "greedy"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
	if _, err := e.Resolve(context.Background(), model.Definition{Domain: "astrology"}, DefaultOptions()); !errors.Is(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected unknown domain, got %v", err)
	}
	if _, err := e.Resolve(context.Background(), throughput(), Options{Kinds: []attractor.Kind{"duffing"}}); !errors.Is(err, attractor.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

func TestResolveShippedDomain(t *testing.T) {
	e := newTestEngine(t, nil, Config{})
	res, err := e.Resolve(context.Background(), model.Definition{Domain: "supply_chain"}, Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        300,
		ConvergenceThreshold: 1e9,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Domain != "supply_chain" || res.Ensemble.KindsRun != len(attractor.Kinds()) {
		t.Fatalf("unexpected result: domain=%s kinds=%d", res.Domain, res.Ensemble.KindsRun)
	}
}
