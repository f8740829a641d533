package domain

import (
	"math"
	"math/rand"

	"bottleneck/internal/attractor"
	"bottleneck/internal/model"
)

const seedMagnitude = 0.1

// MapState projects an attractor state onto the template's variables.
// Variable i reads component i mod len(state), rescaled linearly from
// [-span, span]; values outside the span saturate at the variable bounds.
func (t *Template) MapState(state attractor.State, span float64) Values {
	values := make(Values, len(t.Variables))
	if len(state) == 0 {
		return values
	}
	for i, v := range t.Variables {
		values[v.Name] = scale(state[i%len(state)], span, v)
	}
	return values
}

// StateFor inverts MapState: it builds a dims-long state whose mapping
// reproduces values. Components no variable reads get small random values.
func (t *Template) StateFor(values Values, span float64, dims int, rng *rand.Rand) attractor.State {
	state := make(attractor.State, dims)
	covered := make([]bool, dims)
	for i, v := range t.Variables {
		j := i % dims
		if covered[j] {
			continue
		}
		val, ok := values[v.Name]
		if !ok {
			continue
		}
		state[j] = unscale(val, span, v)
		covered[j] = true
	}
	for j := range state {
		if !covered[j] {
			state[j] = (rng.Float64() - 0.5) * seedMagnitude
		}
	}
	return state
}

func normalized(s, span float64) float64 {
	n := (s + span) / (2 * span)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func scale(s, span float64, v model.VariableSpec) float64 {
	switch v.Kind {
	case model.VariableBinary:
		if s > 0 {
			return 1
		}
		return 0
	case model.VariableDiscrete:
		n := len(v.Options)
		if n == 0 {
			return 0
		}
		idx := int(math.Floor(normalized(s, span) * float64(n)))
		if idx >= n {
			idx = n - 1
		}
		return v.Options[idx]
	default:
		return v.Min + normalized(s, span)*(v.Max-v.Min)
	}
}

func unscale(val, span float64, v model.VariableSpec) float64 {
	switch v.Kind {
	case model.VariableBinary:
		if val > 0.5 {
			return span / 2
		}
		return -span / 2
	case model.VariableDiscrete:
		n := len(v.Options)
		if n == 0 {
			return 0
		}
		idx := nearestOption(v.Options, val)
		return ((float64(idx)+0.5)/float64(n))*2*span - span
	default:
		n := (val - v.Min) / (v.Max - v.Min)
		return n*2*span - span
	}
}

func nearestOption(options []float64, val float64) int {
	best := 0
	for i, o := range options {
		if math.Abs(o-val) < math.Abs(options[best]-val) {
			best = i
		}
	}
	return best
}
