package attractor

import (
	"fmt"
	"strings"
)

// Integrator selects the explicit scheme used for each micro-step.
type Integrator string

const (
	IntegratorEuler Integrator = "euler"
	IntegratorRK4   Integrator = "rk4"
)

func ParseIntegrator(name string) (Integrator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euler":
		return IntegratorEuler, nil
	case "rk4", "runge_kutta":
		return IntegratorRK4, nil
	default:
		return "", fmt.Errorf("unsupported integrator: %s", name)
	}
}

// workspace holds the scratch vectors for one attractor so that micro-steps
// never allocate.
type workspace struct {
	k1, k2, k3, k4 []float64
	tmp            []float64
	next           []float64
}

func newWorkspace(dims int) workspace {
	return workspace{
		k1:   make([]float64, dims),
		k2:   make([]float64, dims),
		k3:   make([]float64, dims),
		k4:   make([]float64, dims),
		tmp:  make([]float64, dims),
		next: make([]float64, dims),
	}
}

type field func(s, ds []float64)

func eulerStep(f field, s []float64, dt float64, w *workspace) {
	f(s, w.k1)
	for i := range s {
		w.next[i] = s[i] + dt*w.k1[i]
	}
}

func rk4Step(f field, s []float64, dt float64, w *workspace) {
	f(s, w.k1)
	for i := range s {
		w.tmp[i] = s[i] + 0.5*dt*w.k1[i]
	}
	f(w.tmp, w.k2)
	for i := range s {
		w.tmp[i] = s[i] + 0.5*dt*w.k2[i]
	}
	f(w.tmp, w.k3)
	for i := range s {
		w.tmp[i] = s[i] + dt*w.k3[i]
	}
	f(w.tmp, w.k4)
	for i := range s {
		w.next[i] = s[i] + dt/6*(w.k1[i]+2*w.k2[i]+2*w.k3[i]+w.k4[i])
	}
}
