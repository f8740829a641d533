package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bottleneck/internal/attractor"
)

var (
	ErrUnknownStrategy   = errors.New("resolver: unknown strategy")
	ErrAllBranchesFailed = errors.New("resolver: every attractor branch failed")
)

type Strategy string

const (
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
	StrategyAdaptive   Strategy = "adaptive"
)

func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(name))) {
	case "", StrategyAdaptive:
		return StrategyAdaptive, nil
	case StrategyParallel:
		return StrategyParallel, nil
	case StrategySequential:
		return StrategySequential, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

const (
	DefaultMaxIterations        = 10000
	DefaultConvergenceThreshold = 0.01
	DefaultTimeout              = 5 * time.Minute
	DefaultCheckpointInterval   = 1000
	DefaultWarmup               = 100
	DefaultInitialConditions    = 5

	// adaptiveParallelShare is the fraction of the iteration budget the
	// adaptive strategy spends on its parallel phase.
	adaptiveParallelShare = 0.3
)

// Options select how one resolution runs. MaxIterations of zero is honored:
// the run evaluates only the seed solution. A zero Timeout disables the
// wall-clock limit.
type Options struct {
	Strategy             Strategy
	MaxIterations        int
	ConvergenceThreshold float64
	Timeout              time.Duration
	// Kinds lists the attractors to run, in order. Empty selects every kind
	// ordered by the domain's preference.
	Kinds []attractor.Kind
}

func DefaultOptions() Options {
	return Options{
		Strategy:             StrategyAdaptive,
		MaxIterations:        DefaultMaxIterations,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		Timeout:              DefaultTimeout,
	}
}

// Config tunes the engine itself and is shared by every resolution.
type Config struct {
	CheckpointInterval int
	Warmup             int
	Dt                 float64
	MicroSteps         int
	Integrator         attractor.Integrator
	// Seed makes runs reproducible. Zero seeds from the clock.
	Seed              int64
	InitialConditions int
	// Presets maps a domain name to the parameter preset per attractor kind.
	Presets map[string]map[attractor.Kind]string
	Logger  *slog.Logger
}

func normalizeConfig(cfg Config) Config {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	} else if cfg.Warmup == 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.Dt <= 0 {
		cfg.Dt = attractor.DefaultDt
	}
	if cfg.MicroSteps <= 0 {
		cfg.MicroSteps = attractor.DefaultMicroSteps
	}
	if cfg.Integrator == "" {
		cfg.Integrator = attractor.IntegratorEuler
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.InitialConditions <= 0 {
		cfg.InitialConditions = DefaultInitialConditions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
