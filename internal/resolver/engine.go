package resolver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bottleneck/internal/attractor"
	"bottleneck/internal/domain"
	"bottleneck/internal/metrics"
	"bottleneck/internal/model"
	"bottleneck/internal/storage"
)

// Engine resolves bottlenecks by running attractors against domain
// templates. It is safe for concurrent use; each resolution owns its
// attractors.
type Engine struct {
	cfg     Config
	store   storage.Store
	catalog *domain.Catalog
	logger  *slog.Logger
	tracer  trace.Tracer

	// exploreFn runs one branch. Tests replace it to inject failures.
	exploreFn func(ctx context.Context, b branch) (BranchResult, error)
}

// New builds an engine. store may be nil, in which case nothing is
// persisted. A nil catalog uses the shipped templates.
func New(store storage.Store, catalog *domain.Catalog, cfg Config) *Engine {
	cfg = normalizeConfig(cfg)
	if cfg.Presets == nil {
		cfg.Presets = domain.DefaultPresets()
	}
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		logger:  cfg.Logger,
		tracer:  otel.Tracer("bottleneck/resolver"),
	}
	e.exploreFn = e.exploreWithAttractor
	return e
}

func (e *Engine) Catalog() *domain.Catalog { return e.catalog }

// Seed is the base seed every branch derives its random source from.
func (e *Engine) Seed() int64 { return e.cfg.Seed }

// resolution carries the per-call state shared by the strategies.
type resolution struct {
	runID     string
	template  *domain.Template
	threshold float64
	seed      int64
}

func (r resolution) branch(kind attractor.Kind, iterations, offset int) branch {
	h := fnv.New64a()
	_, _ = h.Write([]byte(kind))
	return branch{
		runID:      r.runID,
		kind:       kind,
		template:   r.template,
		iterations: iterations,
		threshold:  r.threshold,
		offset:     offset,
		rng:        r.seed ^ int64(h.Sum64()) + int64(offset),
	}
}

// Resolve runs one exploration of def under opts. Persistence failures never
// fail a resolution; they are returned in Result.Warnings. A timeout returns
// the best solution found so far with TimedOut set.
func (e *Engine) Resolve(ctx context.Context, def model.Definition, opts Options) (*Result, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be >= 0, got %d", opts.MaxIterations)
	}
	template, err := e.catalog.Resolve(def)
	if err != nil {
		return nil, err
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = template.PreferredKinds()
	}
	for _, kind := range kinds {
		if _, err := attractor.DefaultParams(kind); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(
			attribute.String("strategy", string(strategy)),
			attribute.String("domain", template.Name),
			attribute.Int("max_iterations", opts.MaxIterations),
		),
	)
	defer span.End()

	result := &Result{
		Domain:     template.Name,
		Strategy:   strategy,
		Bottleneck: def,
	}
	e.openRun(ctx, result, def, opts.MaxIterations)

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	r := resolution{
		runID:     result.RunID,
		template:  template,
		threshold: opts.ConvergenceThreshold,
		seed:      e.cfg.Seed,
	}
	e.logger.Info("resolve started",
		slog.String("run_id", result.RunID),
		slog.String("domain", template.Name),
		slog.String("strategy", string(strategy)),
		slog.Int("max_iterations", opts.MaxIterations),
	)

	var branches []BranchResult
	switch strategy {
	case StrategyParallel:
		branches, err = e.parallel(runCtx, r, kinds, opts.MaxIterations, 0, true)
	case StrategySequential:
		branches, err = e.sequential(runCtx, r, kinds, opts.MaxIterations, 0, nil)
	case StrategyAdaptive:
		branches, err = e.adaptive(runCtx, r, kinds, opts.MaxIterations)
	}
	for _, b := range branches {
		result.Warnings = append(result.Warnings, b.warnings...)
	}

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		e.closeRun(ctx, result, failedOutcome(err))
		metrics.ObserveResolve(string(strategy), string(model.RunFailed), time.Since(started))
		e.logger.Error("resolve failed", slog.String("run_id", result.RunID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("run %s: %w", result.RunID, err)
	}

	ensemble, best, _ := combine(branches)
	result.Ensemble = ensemble
	result.Best = best.clone()
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	switch {
	case ensemble.Converged:
		result.Status = model.RunConverged
	case result.TimedOut:
		result.Status = model.RunTimedOut
	default:
		result.Status = model.RunExhausted
	}

	e.saveSolution(ctx, result)
	e.closeRun(ctx, result, storage.RunOutcome{
		Status:       result.Status,
		FinalState:   result.Best.State,
		FinalFitness: result.Best.Score,
		Diagnostics: map[string]any{
			"kinds_run": ensemble.KindsRun,
			"max_score": ensemble.MaxScore,
			"min_score": ensemble.MinScore,
			"avg_score": ensemble.AvgScore,
			"timed_out": result.TimedOut,
		},
	})

	result.Timestamp = time.Now().UTC()
	result.Elapsed = time.Since(started)
	metrics.ObserveResolve(string(strategy), string(result.Status), result.Elapsed)
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Float64("best_score", result.Best.Score),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Info("resolve finished",
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)),
		slog.Float64("best_score", result.Best.Score),
		slog.String("best_attractor", string(result.Best.Attractor)),
		slog.Int("kinds_run", ensemble.KindsRun),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// failedOutcome is the terminal record of a run aborted by err.
func failedOutcome(err error) storage.RunOutcome {
	return storage.RunOutcome{
		Status:      model.RunFailed,
		Diagnostics: map[string]any{"error": err.Error()},
	}
}

func (e *Engine) parallel(ctx context.Context, r resolution, kinds []attractor.Kind, iterations, offset int, isolate bool) ([]BranchResult, error) {
	results := make([]BranchResult, len(kinds))
	if isolate {
		var g errgroup.Group
		for i, kind := range kinds {
			g.Go(func() error {
				res, err := e.exploreFn(ctx, r.branch(kind, iterations, offset))
				if err != nil {
					res.Attractor = kind
					res.Status = model.RunFailed
					res.Error = err.Error()
					e.logger.Warn("attractor branch failed",
						slog.String("run_id", r.runID),
						slog.String("attractor", string(kind)),
						slog.String("error", err.Error()),
					)
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			if !res.Failed() {
				return results, nil
			}
		}
		if len(results) > 0 {
			return results, fmt.Errorf("%w: %s", ErrAllBranchesFailed, results[0].Error)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := e.exploreFn(gctx, r.branch(kind, iterations, offset))
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// sequential runs kinds in order, carrying the best solution forward, and
// stops at the first kind that converges.
func (e *Engine) sequential(ctx context.Context, r resolution, kinds []attractor.Kind, iterations, offset int, carry *Solution) ([]BranchResult, error) {
	var results []BranchResult
	for _, kind := range kinds {
		if ctx.Err() != nil && len(results) > 0 {
			break
		}
		b := r.branch(kind, iterations, offset)
		b.carry = carry
		res, err := e.exploreFn(ctx, b)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		if carry == nil || res.Best.Score > carry.Score {
			best := res.Best
			carry = &best
		}
		if res.Converged() {
			e.logger.Info("sequential strategy converged early",
				slog.String("run_id", r.runID),
				slog.String("attractor", string(kind)),
				slog.Float64("score", res.Best.Score),
			)
			break
		}
	}
	return results, nil
}

// adaptive spends part of the budget on a parallel survey and refines the
// survey's best solution sequentially with the remainder. A survey whose best
// already beats the threshold ends the run, warm-up or not.
func (e *Engine) adaptive(ctx context.Context, r resolution, kinds []attractor.Kind, iterations int) ([]BranchResult, error) {
	survey := int(float64(iterations) * adaptiveParallelShare)
	results, err := e.parallel(ctx, r, kinds, survey, 0, false)
	if err != nil {
		return results, err
	}
	_, best, found := combine(results)
	if found && best.Score > r.threshold {
		for i := range results {
			if !results[i].Failed() && results[i].Best.Score > r.threshold {
				results[i].Status = model.RunConverged
			}
		}
		e.logger.Info("adaptive survey beat the threshold",
			slog.String("run_id", r.runID),
			slog.String("attractor", string(best.Attractor)),
			slog.Float64("score", best.Score),
		)
		return results, nil
	}
	if ctx.Err() != nil {
		return results, nil
	}

	refined, err := e.sequential(ctx, r, kinds, iterations-survey, survey, &best)
	results = append(results, refined...)
	return mergeByKind(results), err
}

func (e *Engine) openRun(ctx context.Context, result *Result, def model.Definition, budget int) {
	result.RunID = uuid.NewString()
	if e.store == nil {
		return
	}
	id, err := e.store.SaveBottleneck(ctx, def)
	if err != nil {
		e.warn(result, "save_bottleneck", err)
	} else {
		result.BottleneckID = id
	}
	runID, err := e.store.CreateRun(ctx, result.BottleneckID, string(result.Strategy), budget)
	if err != nil {
		e.warn(result, "create_run", err)
		return
	}
	result.RunID = runID
	if err := e.store.StartRun(ctx, runID); err != nil {
		e.warn(result, "start_run", err)
	}
}

func (e *Engine) closeRun(ctx context.Context, result *Result, outcome storage.RunOutcome) {
	if e.store == nil {
		return
	}
	if err := e.store.CompleteRun(context.WithoutCancel(ctx), result.RunID, outcome); err != nil {
		e.warn(result, "complete_run", err)
	}
}

func (e *Engine) saveSolution(ctx context.Context, result *Result) {
	if e.store == nil {
		return
	}
	id, err := e.store.SaveSolution(context.WithoutCancel(ctx), model.Solution{
		BottleneckID: result.BottleneckID,
		RunID:        result.RunID,
		Values:       result.Best.Values,
		Score:        result.Best.Score,
		Attractor:    string(result.Best.Attractor),
		Iteration:    result.Best.Iteration,
		Metadata: map[string]any{
			"strategy":  string(result.Strategy),
			"domain":    result.Domain,
			"status":    string(result.Status),
			"timed_out": result.TimedOut,
		},
	})
	if err != nil {
		e.warn(result, "save_solution", err)
		return
	}
	result.Best.ID = id
}

func (e *Engine) warn(result *Result, operation string, err error) {
	metrics.PersistenceFailure(operation)
	e.logger.Warn("persistence failure",
		slog.String("run_id", result.RunID),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", operation, err))
}

// History lists the runs recorded for a bottleneck, newest first.
func (e *Engine) History(ctx context.Context, bottleneckID string) ([]model.ExplorationRun, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.GetRunHistory(ctx, bottleneckID)
}

func (e *Engine) Solution(ctx context.Context, id string) (model.Solution, bool, error) {
	if e.store == nil {
		return model.Solution{}, false, nil
	}
	return e.store.GetSolution(ctx, id)
}
