package model

import (
	"fmt"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type VariableKind string

const (
	VariableContinuous VariableKind = "continuous"
	VariableDiscrete   VariableKind = "discrete"
	VariableBinary     VariableKind = "binary"
)

type VariableSpec struct {
	Name    string       `json:"name" yaml:"name"`
	Kind    VariableKind `json:"kind" yaml:"kind"`
	Min     float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max     float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Options []float64    `json:"options,omitempty" yaml:"options,omitempty"`
	Unit    string       `json:"unit,omitempty" yaml:"unit,omitempty"`
}

type ConstraintKind string

const (
	ConstraintRange    ConstraintKind = "range"
	ConstraintEquality ConstraintKind = "equality"
	ConstraintMinimum  ConstraintKind = "minimum"
	ConstraintMaximum  ConstraintKind = "maximum"
)

type ConstraintSpec struct {
	Variable    string         `json:"variable" yaml:"variable"`
	Kind        ConstraintKind `json:"kind" yaml:"kind"`
	Min         float64        `json:"min,omitempty" yaml:"min,omitempty"`
	Max         float64        `json:"max,omitempty" yaml:"max,omitempty"`
	Value       float64        `json:"value,omitempty" yaml:"value,omitempty"`
	Tolerance   float64        `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

// ObjectiveSpec describes a linear objective over raw variable values.
// Variables missing from Weights weigh 1.
type ObjectiveSpec struct {
	Direction Direction          `json:"direction" yaml:"direction"`
	Weights   map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Definition is a caller-supplied bottleneck. A definition that names a
// shipped domain and lists no variables resolves to that domain's template.
type Definition struct {
	Name        string           `json:"name" yaml:"name"`
	Domain      string           `json:"domain,omitempty" yaml:"domain,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   []VariableSpec   `json:"variables,omitempty" yaml:"variables,omitempty"`
	Constraints []ConstraintSpec `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Objective   ObjectiveSpec    `json:"objective" yaml:"objective"`
}

type Bottleneck struct {
	VersionedRecord
	ID         string     `json:"id"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"created_at"`
}

type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunConverged RunStatus = "converged"
	RunExhausted RunStatus = "exhausted"
	RunTimedOut  RunStatus = "timed_out"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunConverged, RunExhausted, RunTimedOut, RunFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from s to next. Runs only move
// forward: created, then running, then one terminal status.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunCreated:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Transition validates and applies a status change.
func (r *ExplorationRun) Transition(next RunStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

type ExplorationRun struct {
	VersionedRecord
	ID              string         `json:"id"`
	BottleneckID    string         `json:"bottleneck_id"`
	Strategy        string         `json:"strategy"`
	IterationBudget int            `json:"iteration_budget"`
	Status          RunStatus      `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
	FinalFitness    float64        `json:"final_fitness"`
	FinalState      []float64      `json:"final_state,omitempty"`
	Diagnostics     map[string]any `json:"diagnostics,omitempty"`
}

// Checkpoint is an append-only snapshot of one attractor branch of a run.
type Checkpoint struct {
	VersionedRecord
	RunID       string         `json:"run_id"`
	Attractor   string         `json:"attractor"`
	Iteration   int            `json:"iteration"`
	State       []float64      `json:"state"`
	Fitness     float64        `json:"fitness"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Solution struct {
	VersionedRecord
	ID           string             `json:"id"`
	BottleneckID string             `json:"bottleneck_id"`
	RunID        string             `json:"run_id"`
	Values       map[string]float64 `json:"values"`
	Score        float64            `json:"score"`
	Attractor    string             `json:"attractor"`
	Iteration    int                `json:"iteration"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

type DeploymentAction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type DeploymentRisk struct {
	Level       string `json:"level"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

type ScalingPhase struct {
	Name     string   `json:"name"`
	Scale    string   `json:"scale"`
	Duration string   `json:"duration"`
	Metrics  []string `json:"metrics"`
}

type DeploymentPlan struct {
	VersionedRecord
	ID              string             `json:"id"`
	RunID           string             `json:"run_id"`
	BottleneckID    string             `json:"bottleneck_id"`
	Status          string             `json:"status"`
	Solution        map[string]float64 `json:"solution"`
	Score           float64            `json:"score"`
	Actions         []DeploymentAction `json:"actions"`
	Risks           []DeploymentRisk   `json:"risks"`
	Phases          []ScalingPhase     `json:"phases"`
	SuccessCriteria []string           `json:"success_criteria"`
	AttractorsUsed  []string           `json:"attractors_used,omitempty"`
	TotalIterations int                `json:"total_iterations"`
	CreatedAt       time.Time          `json:"created_at"`
}
