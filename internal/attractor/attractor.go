package attractor

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	DefaultBound         = 100.0
	DefaultDt            = 0.01
	DefaultMicroSteps    = 100
	DefaultTrajectoryCap = 10000
	DefaultCoupling      = 0.1
	DefaultNoise         = 1e-3

	seedMagnitude = 0.1
)

// defaultSpans is the symmetric half-width each kind's trajectory occupies in
// practice; state components are rescaled from [-span, span].
var defaultSpans = map[Kind]float64{
	KindLorenz:  20,
	KindChen:    100,
	KindRossler: 12,
}

type Config struct {
	Dimensions    int
	Bound         float64
	Span          float64
	Coupling      float64
	Noise         float64
	TrajectoryCap int
	Integrator    Integrator
	Seed          int64
}

func normalizeConfig(kind Kind, cfg Config) Config {
	if cfg.Dimensions < 3 {
		cfg.Dimensions = 3
	}
	if cfg.Bound <= 0 {
		cfg.Bound = DefaultBound
	}
	if cfg.Span <= 0 {
		cfg.Span = defaultSpans[kind]
	}
	if cfg.Span > cfg.Bound {
		cfg.Span = cfg.Bound
	}
	if cfg.Coupling <= 0 {
		cfg.Coupling = DefaultCoupling
	}
	if cfg.Noise < 0 {
		cfg.Noise = 0
	} else if cfg.Noise == 0 {
		cfg.Noise = DefaultNoise
	}
	if cfg.TrajectoryCap <= 0 {
		cfg.TrajectoryCap = DefaultTrajectoryCap
	}
	if cfg.Integrator == "" {
		cfg.Integrator = IntegratorEuler
	}
	return cfg
}

// Attractor evolves one dynamical system. It is not safe for concurrent use;
// each exploration owns its own instance.
type Attractor struct {
	kind   Kind
	params Params
	cfg    Config

	state State
	traj  *Trajectory
	rng   *rand.Rand
	noise []float64
	work  workspace
	step  func(f field, s []float64, dt float64, w *workspace)
	deriv field
}

func New(kind Kind, cfg Config) (*Attractor, error) {
	params, err := DefaultParams(kind)
	if err != nil {
		return nil, err
	}
	cfg = normalizeConfig(kind, cfg)

	a := &Attractor{
		kind:   kind,
		params: params,
		cfg:    cfg,
		traj:   NewTrajectory(cfg.Dimensions, cfg.TrajectoryCap),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		noise:  make([]float64, cfg.Dimensions),
		work:   newWorkspace(cfg.Dimensions),
	}
	switch cfg.Integrator {
	case IntegratorEuler:
		a.step = eulerStep
	case IntegratorRK4:
		a.step = rk4Step
	default:
		return nil, fmt.Errorf("unsupported integrator: %s", cfg.Integrator)
	}
	a.deriv = a.field
	if _, err := a.Initialize(nil); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Attractor) Kind() Kind { return a.kind }

func (a *Attractor) Dimensions() int { return a.cfg.Dimensions }

// Bound is the symmetric clamp applied to every component after each
// micro-step.
func (a *Attractor) Bound() float64 { return a.cfg.Bound }

// Span is the symmetric range state components are rescaled from when they
// are mapped onto a domain.
func (a *Attractor) Span() float64 { return a.cfg.Span }

func (a *Attractor) Params() Params { return a.params }

func (a *Attractor) IsChaotic() bool { return a.params.IsChaotic() }

// SetParams replaces the coefficients. Parameters of another kind fail with
// ErrDimensionMismatch; infeasible ones with ErrInvalidParameters.
func (a *Attractor) SetParams(p Params) error {
	if p == nil {
		return fmt.Errorf("%w: nil parameters", ErrInvalidParameters)
	}
	if p.Kind() != a.kind {
		return fmt.Errorf("%w: %s parameters for %s attractor", ErrDimensionMismatch, p.Kind(), a.kind)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	a.params = p
	return nil
}

// Initialize seeds the attractor. A nil seed draws small random values so the
// system does not start on an unstable fixed point.
func (a *Attractor) Initialize(seed State) (State, error) {
	if seed == nil {
		seed = make(State, a.cfg.Dimensions)
		for i := range seed {
			seed[i] = (a.rng.Float64() - 0.5) * seedMagnitude
		}
	}
	if err := a.SetState(seed); err != nil {
		return nil, err
	}
	return a.state.Clone(), nil
}

// SetState replaces the current state and restarts the trajectory from it.
func (a *Attractor) SetState(s State) error {
	if len(s) != a.cfg.Dimensions {
		return fmt.Errorf("%w: got=%d want=%d", ErrDimensionMismatch, len(s), a.cfg.Dimensions)
	}
	a.state = s.Clone()
	a.traj.Reset(a.state)
	return nil
}

// State returns a copy of the current state.
func (a *Attractor) State() State { return a.state.Clone() }

func (a *Attractor) Trajectory() *Trajectory { return a.traj }

// Evolve integrates microSteps sub-steps of size dt, clamping every component
// to the bound after each one, appends the result to the trajectory and
// returns a copy of it.
func (a *Attractor) Evolve(dt float64, microSteps int) (State, error) {
	if dt <= 0 {
		dt = DefaultDt
	}
	if microSteps <= 0 {
		microSteps = DefaultMicroSteps
	}

	bound := a.cfg.Bound
	for step := 0; step < microSteps; step++ {
		a.sampleNoise()
		a.step(a.deriv, a.state, dt, &a.work)
		for i, v := range a.work.next {
			if math.IsNaN(v) {
				return nil, &StepError{Kind: a.kind, MicroStep: step, State: a.state.Clone(), Err: ErrNumericalDivergence}
			}
			if v > bound {
				v = bound
			} else if v < -bound {
				v = -bound
			}
			a.work.next[i] = v
		}
		a.state, a.work.next = a.work.next, a.state
	}

	a.traj.Push(a.state)
	return a.state.Clone(), nil
}

func (a *Attractor) field(s, ds []float64) {
	a.params.core(s, ds)
	for j := 3; j < len(s); j++ {
		a.params.extension(s, ds, j, a.cfg.Coupling)
		ds[j] += a.noise[j]
	}
}

func (a *Attractor) sampleNoise() {
	if a.kind != KindRossler || a.cfg.Dimensions <= 3 {
		return
	}
	for j := 3; j < len(a.noise); j++ {
		a.noise[j] = a.rng.NormFloat64() * a.cfg.Noise
	}
}
