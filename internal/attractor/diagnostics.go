package attractor

import (
	"math"
	"strconv"
)

const (
	minDiagnosticPoints = 100
	sensitivityWindow   = 1000
	boxSize             = 0.1
)

// Diagnostics summarizes an attractor's trajectory. The values are estimates
// and play no part in scoring.
type Diagnostics struct {
	Sensitivity      float64            `json:"sensitivity"`
	OccupiedVolume   float64            `json:"occupied_volume"`
	TrajectoryLength int                `json:"trajectory_length"`
	Chaotic          bool               `json:"chaotic"`
	Regime           string             `json:"regime"`
	Parameters       map[string]float64 `json:"parameters"`
}

func (a *Attractor) Diagnostics() Diagnostics {
	return Diagnostics{
		Sensitivity:      a.SensitivityEstimate(),
		OccupiedVolume:   a.OccupiedVolumeEstimate(),
		TrajectoryLength: a.traj.Len(),
		Chaotic:          a.params.IsChaotic(),
		Regime:           a.params.Regime(),
		Parameters:       a.params.Values(),
	}
}

// SensitivityEstimate approximates the leading divergence rate as the mean log
// distance between consecutive points over the most recent window.
func (a *Attractor) SensitivityEstimate() float64 {
	n := a.traj.Len()
	if n < minDiagnosticPoints {
		return 0
	}
	first := 1
	if n > sensitivityWindow {
		first = n - sensitivityWindow + 1
	}

	total := 0.0
	count := 0
	for i := first; i < n; i++ {
		d := distance(a.traj.at(i), a.traj.at(i-1))
		if d > 1e-10 {
			total += math.Log(d)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// OccupiedVolumeEstimate is a single-scale box-counting estimate of how much
// of the phase space the trajectory fills.
func (a *Attractor) OccupiedVolumeEstimate() float64 {
	n := a.traj.Len()
	if n < minDiagnosticPoints {
		return 0
	}

	boxes := make(map[string]struct{}, n)
	key := make([]byte, 0, 16*a.cfg.Dimensions)
	for i := 0; i < n; i++ {
		key = key[:0]
		for _, v := range a.traj.at(i) {
			key = strconv.AppendInt(key, int64(math.Floor(v/boxSize)), 10)
			key = append(key, ',')
		}
		boxes[string(key)] = struct{}{}
	}
	return math.Log(float64(len(boxes))) / math.Log(1/boxSize)
}
