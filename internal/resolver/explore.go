package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bottleneck/internal/attractor"
	"bottleneck/internal/domain"
	"bottleneck/internal/evaluate"
	"bottleneck/internal/metrics"
	"bottleneck/internal/model"
)

// branch is one attractor's share of a resolution.
type branch struct {
	runID      string
	kind       attractor.Kind
	template   *domain.Template
	iterations int
	threshold  float64
	// offset continues iteration numbering across strategy phases.
	offset int
	// carry, when set, seeds the branch and is the lower bound its best must
	// beat. It keeps the attractor and iteration that found it.
	carry *Solution
	rng   int64
}

func (e *Engine) params(t *domain.Template, kind attractor.Kind) (attractor.Params, error) {
	name := t.Presets[kind]
	if name == "" {
		name = e.cfg.Presets[t.Name][kind]
	}
	return attractor.Preset(kind, name)
}

// exploreWithAttractor evolves one attractor against the template until it
// converges, exhausts its budget or the context ends. A context that ends
// mid-run yields a timed-out result carrying the best solution so far.
func (e *Engine) exploreWithAttractor(ctx context.Context, b branch) (BranchResult, error) {
	ctx, span := e.tracer.Start(ctx, "resolver.explore",
		trace.WithAttributes(
			attribute.String("attractor", string(b.kind)),
			attribute.Int("iterations", b.iterations),
			attribute.Int("offset", b.offset),
		),
	)
	defer span.End()

	result, err := e.runBranch(ctx, b)
	metrics.ObserveExploration(string(b.kind), string(result.Status), result.Iterations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exploration failed")
		return result, err
	}
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Float64("best_score", result.Best.Score),
	)
	return result, nil
}

func (e *Engine) runBranch(ctx context.Context, b branch) (BranchResult, error) {
	result := BranchResult{Attractor: b.kind, Status: model.RunFailed}
	fail := func(err error) (BranchResult, error) {
		result.Status = model.RunFailed
		result.Error = err.Error()
		return result, err
	}

	a, err := attractor.New(b.kind, attractor.Config{
		Dimensions: b.template.Dimensions(),
		Integrator: e.cfg.Integrator,
		Seed:       b.rng,
	})
	if err != nil {
		return fail(err)
	}
	params, err := e.params(b.template, b.kind)
	if err != nil {
		return fail(err)
	}
	if err := a.SetParams(params); err != nil {
		return fail(err)
	}

	rng := rand.New(rand.NewSource(b.rng))
	var seed domain.Values
	if b.carry != nil {
		seed = b.carry.Values
	} else {
		seed = b.template.GenerateInitialConditions(rng, e.cfg.InitialConditions)[0]
	}
	span := a.Span()
	state, err := a.Initialize(b.template.StateFor(seed, span, a.Dimensions(), rng))
	if err != nil {
		return fail(err)
	}

	var best Solution
	if b.carry != nil {
		best = b.carry.clone()
	} else {
		values := b.template.MapState(state, span)
		best = Solution{
			Values:    values,
			Score:     evaluate.Score(values, b.template),
			Attractor: b.kind,
			Iteration: b.offset,
			State:     state,
		}
	}

	status := model.RunExhausted
	i := 0
	for i < b.iterations {
		if ctx.Err() != nil {
			status = model.RunTimedOut
			break
		}
		state, err := a.Evolve(e.cfg.Dt, e.cfg.MicroSteps)
		if err != nil {
			result.Iterations = i
			result.Best = best
			result.Diagnostics = a.Diagnostics()
			return fail(fmt.Errorf("%s iteration %d: %w", b.kind, b.offset+i+1, err))
		}
		i++

		values := b.template.MapState(state, span)
		if score := evaluate.Score(values, b.template); score > best.Score {
			best = Solution{Values: values, Score: score, Attractor: b.kind, Iteration: b.offset + i, State: state}
		}

		if i%e.cfg.CheckpointInterval == 0 {
			iteration := b.offset + i
			if warning := e.checkpoint(ctx, b, a, iteration, best.Score); warning != "" {
				result.warnings = append(result.warnings, warning)
			}
			result.Checkpoints = append(result.Checkpoints, iteration)
		}

		if i >= e.cfg.Warmup && best.Score > b.threshold {
			status = model.RunConverged
			break
		}
	}

	result.Status = status
	result.Best = best
	result.Iterations = i
	result.Diagnostics = a.Diagnostics()
	return result, nil
}

// checkpoint persists a snapshot. Failures are reported, never fatal.
func (e *Engine) checkpoint(ctx context.Context, b branch, a *attractor.Attractor, iteration int, fitness float64) string {
	if e.store == nil {
		return ""
	}
	d := a.Diagnostics()
	err := e.store.SaveCheckpoint(context.WithoutCancel(ctx), model.Checkpoint{
		RunID:     b.runID,
		Attractor: string(b.kind),
		Iteration: iteration,
		State:     a.State(),
		Fitness:   fitness,
		Diagnostics: map[string]any{
			"sensitivity":       d.Sensitivity,
			"occupied_volume":   d.OccupiedVolume,
			"trajectory_length": d.TrajectoryLength,
		},
	})
	if err == nil {
		return ""
	}
	metrics.PersistenceFailure("save_checkpoint")
	e.logger.Warn("checkpoint write failed",
		slog.String("run_id", b.runID),
		slog.String("attractor", string(b.kind)),
		slog.Int("iteration", iteration),
		slog.String("error", err.Error()),
	)
	return fmt.Sprintf("checkpoint %s/%d: %v", b.kind, iteration, err)
}
