package resolver

import (
	"time"

	"bottleneck/internal/attractor"
	"bottleneck/internal/domain"
	"bottleneck/internal/model"
)

// Solution is a scored candidate with the attractor and iteration that
// produced it.
type Solution struct {
	ID        string          `json:"id,omitempty"`
	Values    domain.Values   `json:"values"`
	Score     float64         `json:"score"`
	Attractor attractor.Kind  `json:"attractor"`
	Iteration int             `json:"iteration"`
	State     attractor.State `json:"state,omitempty"`
}

func (s Solution) clone() Solution {
	s.Values = s.Values.Clone()
	s.State = s.State.Clone()
	return s
}

// BranchResult is the outcome of one attractor's exploration.
type BranchResult struct {
	Attractor   attractor.Kind        `json:"attractor"`
	Status      model.RunStatus       `json:"status"`
	Best        Solution              `json:"best"`
	Iterations  int                   `json:"iterations"`
	Checkpoints []int                 `json:"checkpoints,omitempty"`
	Diagnostics attractor.Diagnostics `json:"diagnostics"`
	Error       string                `json:"error,omitempty"`

	warnings []string
}

func (b BranchResult) Failed() bool { return b.Status == model.RunFailed }

func (b BranchResult) Converged() bool { return b.Status == model.RunConverged }

// Ensemble aggregates the branches of a resolution. Failed branches are
// listed but excluded from the score statistics.
type Ensemble struct {
	Branches  []BranchResult `json:"branches"`
	MaxScore  float64        `json:"max_score"`
	MinScore  float64        `json:"min_score"`
	AvgScore  float64        `json:"avg_score"`
	Converged bool           `json:"converged"`
	KindsRun  int            `json:"kinds_run"`
}

func (e Ensemble) TotalIterations() int {
	total := 0
	for _, b := range e.Branches {
		total += b.Iterations
	}
	return total
}

type Result struct {
	RunID        string           `json:"run_id"`
	BottleneckID string           `json:"bottleneck_id"`
	Domain       string           `json:"domain"`
	Strategy     Strategy         `json:"strategy"`
	Status       model.RunStatus  `json:"status"`
	Best         Solution         `json:"best_solution"`
	Ensemble     Ensemble         `json:"ensemble"`
	Bottleneck   model.Definition `json:"bottleneck"`
	TimedOut     bool             `json:"timed_out"`
	Warnings     []string         `json:"warnings,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// combine builds the ensemble and picks the best solution. Earlier branches
// win ties.
func combine(branches []BranchResult) (Ensemble, Solution, bool) {
	ens := Ensemble{Branches: branches}
	var best Solution
	found := false
	sum := 0.0
	scored := 0
	kinds := make(map[attractor.Kind]struct{}, len(branches))
	for _, b := range branches {
		kinds[b.Attractor] = struct{}{}
		if b.Failed() {
			continue
		}
		score := b.Best.Score
		if !found || score > best.Score {
			best = b.Best
			found = true
		}
		if scored == 0 || score > ens.MaxScore {
			ens.MaxScore = score
		}
		if scored == 0 || score < ens.MinScore {
			ens.MinScore = score
		}
		sum += score
		scored++
		if b.Converged() {
			ens.Converged = true
		}
	}
	if scored > 0 {
		ens.AvgScore = sum / float64(scored)
	}
	ens.KindsRun = len(kinds)
	return ens, best, found
}

// mergeByKind folds the branches of a multi-phase run into one entry per
// attractor kind, keeping first-appearance order.
func mergeByKind(branches []BranchResult) []BranchResult {
	index := make(map[attractor.Kind]int, len(branches))
	var merged []BranchResult
	for _, b := range branches {
		i, ok := index[b.Attractor]
		if !ok {
			index[b.Attractor] = len(merged)
			b.Checkpoints = append([]int(nil), b.Checkpoints...)
			merged = append(merged, b)
			continue
		}
		m := &merged[i]
		m.Iterations += b.Iterations
		m.Checkpoints = append(m.Checkpoints, b.Checkpoints...)
		if !b.Failed() && (m.Failed() || b.Best.Score > m.Best.Score) {
			m.Best = b.Best
		}
		if !m.Converged() {
			m.Status = b.Status
		}
		if b.Error != "" {
			m.Error = b.Error
		}
		m.Diagnostics = b.Diagnostics
		m.warnings = append(m.warnings, b.warnings...)
	}
	return merged
}
