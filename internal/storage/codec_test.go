package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"bottleneck/internal/model"
)

func TestDecodeSolutionFixture(t *testing.T) {
	solution, err := DecodeSolution(readFixture(t, "solution_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if solution.ID != "solution-minimal-1" || solution.Values["x"] != 9.31 {
		t.Fatalf("unexpected solution: %+v", solution)
	}
	if solution.Attractor != "lorenz" || solution.Iteration != 417 {
		t.Fatalf("unexpected provenance: %+v", solution)
	}
}

func TestDecodeRunFixture(t *testing.T) {
	run, err := DecodeRun(readFixture(t, "run_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.Status != model.RunConverged || run.IterationBudget != 5000 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !reflect.DeepEqual(run.FinalState, []float64{17.24, 3.5, 30.1}) {
		t.Fatalf("unexpected final state: %v", run.FinalState)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	if _, err := DecodeRun(readFixture(t, "run_v0.json")); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestEncodeDecodeCheckpoint(t *testing.T) {
	in := stampCheckpoint(model.Checkpoint{RunID: "r1", Attractor: "chen", Iteration: 2000, State: []float64{1, -2, 3}, Fitness: 0.5})
	data, err := EncodeCheckpoint(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Iteration != 2000 || !reflect.DeepEqual(out.State, in.State) || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("checkpoint changed across codec: %+v", out)
	}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "fixtures", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}
