package attractor

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind names one of the shipped dynamical systems.
type Kind string

const (
	KindLorenz  Kind = "lorenz"
	KindChen    Kind = "chen"
	KindRossler Kind = "rossler"
)

// Kinds lists every shipped system in registration order.
func Kinds() []Kind {
	return []Kind{KindLorenz, KindChen, KindRossler}
}

func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lorenz", "a":
		return KindLorenz, nil
	case "chen", "b":
		return KindChen, nil
	case "rossler", "rössler", "c":
		return KindRossler, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// Params is the per-kind coefficient record. The set of implementations is
// closed: LorenzParams, ChenParams and RosslerParams.
type Params interface {
	Kind() Kind
	Validate() error
	IsChaotic() bool
	Regime() string
	Values() map[string]float64

	core(s, ds []float64)
	extension(s, ds []float64, j int, coupling float64)
}

const crossGain = 0.01

type LorenzParams struct {
	Sigma float64 `json:"sigma"`
	Rho   float64 `json:"rho"`
	Beta  float64 `json:"beta"`
}

func (LorenzParams) Kind() Kind { return KindLorenz }

func (p LorenzParams) Validate() error {
	if !finite(p.Sigma, p.Rho, p.Beta) {
		return fmt.Errorf("%w: lorenz coefficients must be finite", ErrInvalidParameters)
	}
	if p.Sigma <= 0 || p.Rho <= 0 || p.Beta <= 0 {
		return fmt.Errorf("%w: lorenz sigma, rho and beta must be positive", ErrInvalidParameters)
	}
	return nil
}

// CriticalRho is the Hopf bifurcation value above which the system is chaotic.
func (p LorenzParams) CriticalRho() float64 {
	denom := p.Sigma - p.Beta - 1
	if denom <= 0 {
		return math.Inf(1)
	}
	return p.Sigma * (p.Sigma + p.Beta + 3) / denom
}

func (p LorenzParams) IsChaotic() bool {
	return p.Rho > p.CriticalRho()
}

func (p LorenzParams) Regime() string {
	critical := p.CriticalRho()
	switch {
	case p.Rho < 1:
		return "stable_fixed_point"
	case p.Rho < critical:
		return "periodic"
	case p.Rho > critical:
		return "chaotic"
	default:
		return "bifurcation_point"
	}
}

func (p LorenzParams) Values() map[string]float64 {
	return map[string]float64{"sigma": p.Sigma, "rho": p.Rho, "beta": p.Beta}
}

func (p LorenzParams) core(s, ds []float64) {
	x, y, z := s[0], s[1], s[2]
	ds[0] = p.Sigma * (y - x)
	ds[1] = x*(p.Rho-z) - y
	ds[2] = x*y - p.Beta*z
}

func (p LorenzParams) extension(s, ds []float64, j int, coupling float64) {
	ds[j] = coupling*(s[j-1]-s[j]) + crossGain*s[j%3]*s[(j+1)%3]
}

type ChenParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

func (ChenParams) Kind() Kind { return KindChen }

func (p ChenParams) Validate() error {
	if !finite(p.A, p.B, p.C) {
		return fmt.Errorf("%w: chen coefficients must be finite", ErrInvalidParameters)
	}
	if p.A <= 0 {
		return fmt.Errorf("%w: chen a must be positive", ErrInvalidParameters)
	}
	if p.B >= 0 {
		return fmt.Errorf("%w: chen b must be negative", ErrInvalidParameters)
	}
	if p.C >= 0 {
		return fmt.Errorf("%w: chen c must be negative", ErrInvalidParameters)
	}
	return nil
}

func (p ChenParams) IsChaotic() bool {
	return p.A > 0 && p.B < 0 && p.C < 0
}

func (p ChenParams) Regime() string {
	if p.IsChaotic() {
		return "chaotic"
	}
	return "non_chaotic"
}

func (p ChenParams) Values() map[string]float64 {
	return map[string]float64{"a": p.A, "b": p.B, "c": p.C}
}

func (p ChenParams) core(s, ds []float64) {
	x1, x2, x3 := s[0], s[1], s[2]
	ds[0] = p.A * (x2 - x1)
	ds[1] = (p.C-p.A)*x1 - x1*x3 + p.C*x2
	ds[2] = x1*x2 - p.B*x3
}

func (p ChenParams) extension(s, ds []float64, j int, coupling float64) {
	ds[j] = coupling*(s[j-1]-s[j]) - crossGain*s[j%3]*s[(j+2)%3]
}

type RosslerParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

func (RosslerParams) Kind() Kind { return KindRossler }

func (p RosslerParams) Validate() error {
	if !finite(p.A, p.B, p.C) {
		return fmt.Errorf("%w: rossler coefficients must be finite", ErrInvalidParameters)
	}
	if p.A < 0 || p.A > 1 {
		return fmt.Errorf("%w: rossler a must be in [0, 1]", ErrInvalidParameters)
	}
	if p.B < 0 || p.B > 1 {
		return fmt.Errorf("%w: rossler b must be in [0, 1]", ErrInvalidParameters)
	}
	if p.C < 0 || p.C > 20 {
		return fmt.Errorf("%w: rossler c must be in [0, 20]", ErrInvalidParameters)
	}
	return nil
}

func (p RosslerParams) IsChaotic() bool {
	return p.C > 4
}

func (p RosslerParams) Regime() string {
	if p.IsChaotic() {
		return "chaotic"
	}
	return "periodic"
}

func (p RosslerParams) Values() map[string]float64 {
	return map[string]float64{"a": p.A, "b": p.B, "c": p.C}
}

func (p RosslerParams) core(s, ds []float64) {
	x, y, z := s[0], s[1], s[2]
	ds[0] = -y - z
	ds[1] = x + p.A*y
	ds[2] = p.B + z*(x-p.C)
}

// Rossler extension channels are purely diffusive; the noise term is added by
// the attractor before each micro-step.
func (p RosslerParams) extension(s, ds []float64, j int, coupling float64) {
	ds[j] = coupling * (s[j-1] - s[j])
}

func DefaultParams(kind Kind) (Params, error) {
	return Preset(kind, defaultPresetName(kind))
}

var presets = map[Kind]map[string]Params{
	KindLorenz: {
		"classic":    LorenzParams{Sigma: 10, Rho: 28, Beta: 8.0 / 3.0},
		"high_chaos": LorenzParams{Sigma: 16, Rho: 45.92, Beta: 4},
		"low_chaos":  LorenzParams{Sigma: 10, Rho: 24.74, Beta: 8.0 / 3.0},
		"periodic":   LorenzParams{Sigma: 10, Rho: 13.926, Beta: 8.0 / 3.0},
	},
	KindChen: {
		"standard":       ChenParams{A: 5, B: -10, C: -0.38},
		"high_chaos":     ChenParams{A: 36, B: -3, C: -16},
		"moderate_chaos": ChenParams{A: 40, B: -3, C: -28},
		"low_chaos":      ChenParams{A: 5, B: -10, C: -0.1},
	},
	KindRossler: {
		"standard":      RosslerParams{A: 0.2, B: 0.2, C: 5.7},
		"high_chaos":    RosslerParams{A: 0.1, B: 0.1, C: 14},
		"periodic":      RosslerParams{A: 0.2, B: 0.2, C: 2.5},
		"quasiperiodic": RosslerParams{A: 0.15, B: 0.2, C: 8.5},
	},
}

func defaultPresetName(kind Kind) string {
	if kind == KindLorenz {
		return "classic"
	}
	return "standard"
}

// Preset returns a named coefficient set for kind. An empty name selects the
// kind's default.
func Preset(kind Kind, name string) (Params, error) {
	byName, ok := presets[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if name == "" {
		name = defaultPresetName(kind)
	}
	p, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPreset, kind, name)
	}
	return p, nil
}

func PresetNames(kind Kind) []string {
	names := make([]string, 0, len(presets[kind]))
	for name := range presets[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
