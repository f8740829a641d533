package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bottleneck/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func currentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeBottleneck(b model.Bottleneck) ([]byte, error) {
	return json.Marshal(b)
}

func DecodeBottleneck(data []byte) (model.Bottleneck, error) {
	return decodeVersioned[model.Bottleneck](data, func(b model.Bottleneck) model.VersionedRecord { return b.VersionedRecord })
}

func EncodeRun(r model.ExplorationRun) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.ExplorationRun, error) {
	return decodeVersioned[model.ExplorationRun](data, func(r model.ExplorationRun) model.VersionedRecord { return r.VersionedRecord })
}

func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	return decodeVersioned[model.Checkpoint](data, func(c model.Checkpoint) model.VersionedRecord { return c.VersionedRecord })
}

func EncodeSolution(s model.Solution) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSolution(data []byte) (model.Solution, error) {
	return decodeVersioned[model.Solution](data, func(s model.Solution) model.VersionedRecord { return s.VersionedRecord })
}

func EncodeDeploymentPlan(p model.DeploymentPlan) ([]byte, error) {
	return json.Marshal(p)
}

func DecodeDeploymentPlan(data []byte) (model.DeploymentPlan, error) {
	return decodeVersioned[model.DeploymentPlan](data, func(p model.DeploymentPlan) model.VersionedRecord { return p.VersionedRecord })
}

func decodeVersioned[T any](data []byte, version func(T) model.VersionedRecord) (T, error) {
	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		var zero T
		return zero, err
	}
	if err := checkVersion(version(record)); err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// The helpers below stamp new records identically across backends.

func newBottleneck(def model.Definition) model.Bottleneck {
	return model.Bottleneck{
		VersionedRecord: currentVersion(),
		ID:              uuid.NewString(),
		Definition:      def,
		CreatedAt:       time.Now().UTC(),
	}
}

func newRun(bottleneckID, strategy string, budget int) model.ExplorationRun {
	return model.ExplorationRun{
		VersionedRecord: currentVersion(),
		ID:              uuid.NewString(),
		BottleneckID:    bottleneckID,
		Strategy:        strategy,
		IterationBudget: budget,
		Status:          model.RunCreated,
		StartedAt:       time.Now().UTC(),
	}
}

func startRun(run *model.ExplorationRun) error {
	return run.Transition(model.RunRunning)
}

func completeRun(run *model.ExplorationRun, outcome RunOutcome) error {
	if err := run.Transition(outcome.Status); err != nil {
		return err
	}
	run.CompletedAt = time.Now().UTC()
	run.FinalFitness = outcome.FinalFitness
	run.FinalState = append([]float64(nil), outcome.FinalState...)
	run.Diagnostics = outcome.Diagnostics
	return nil
}

func stampCheckpoint(c model.Checkpoint) model.Checkpoint {
	c.VersionedRecord = currentVersion()
	c.State = append([]float64(nil), c.State...)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return c
}

func stampSolution(s model.Solution) model.Solution {
	s.VersionedRecord = currentVersion()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	s.Values = values
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return s
}

func stampDeploymentPlan(p model.DeploymentPlan) model.DeploymentPlan {
	p.VersionedRecord = currentVersion()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "planned"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p
}

func missing(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
