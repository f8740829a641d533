package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"bottleneck/internal/model"
)

const (
	prefixBottleneck = "bottleneck/"
	prefixRun        = "run/"
	prefixRunIndex   = "run-index/"
	prefixCheckpoint = "checkpoint/"
	prefixSolution   = "solution/"
	prefixPlan       = "plan/"
)

// BadgerStore keeps records in an embedded key-value store. Secondary
// lookups use index keys that carry no value.
type BadgerStore struct {
	path string

	mu sync.RWMutex
	db *badger.DB
}

// NewBadgerStore opens a store rooted at path. An empty path keeps the data
// in memory.
func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.path, err)
		}
		opts = badger.DefaultOptions(s.path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SaveBottleneck(ctx context.Context, def model.Definition) (string, error) {
	b := newBottleneck(def)
	payload, err := EncodeBottleneck(b)
	if err != nil {
		return "", err
	}
	if err := s.update(ctx, "save bottleneck", func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixBottleneck+b.ID), payload)
	}); err != nil {
		return "", err
	}
	return b.ID, nil
}

func (s *BadgerStore) GetBottleneck(ctx context.Context, id string) (model.Bottleneck, bool, error) {
	payload, ok, err := s.get(ctx, prefixBottleneck+id)
	if err != nil || !ok {
		return model.Bottleneck{}, false, err
	}
	b, err := DecodeBottleneck(payload)
	if err != nil {
		return model.Bottleneck{}, false, fmt.Errorf("decode bottleneck %s: %w", id, err)
	}
	return b, true, nil
}

func (s *BadgerStore) CreateRun(ctx context.Context, bottleneckID, strategy string, iterationBudget int) (string, error) {
	run := newRun(bottleneckID, strategy, iterationBudget)
	payload, err := EncodeRun(run)
	if err != nil {
		return "", err
	}
	if err := s.update(ctx, "create run", func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixRun+run.ID), payload); err != nil {
			return err
		}
		return txn.Set([]byte(prefixRunIndex+bottleneckID+"/"+run.ID), nil)
	}); err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *BadgerStore) StartRun(ctx context.Context, runID string) error {
	return s.updateRun(ctx, runID, startRun)
}

func (s *BadgerStore) CompleteRun(ctx context.Context, runID string, outcome RunOutcome) error {
	return s.updateRun(ctx, runID, func(run *model.ExplorationRun) error {
		return completeRun(run, outcome)
	})
}

func (s *BadgerStore) updateRun(ctx context.Context, runID string, apply func(*model.ExplorationRun) error) error {
	var domainErr error
	err := s.update(ctx, "update run", func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + runID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				domainErr = missing("run", runID)
				return nil
			}
			return err
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			domainErr = fmt.Errorf("decode run %s: %w", runID, err)
			return nil
		}
		if err := apply(&run); err != nil {
			domainErr = err
			return nil
		}
		updated, err := EncodeRun(run)
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefixRun+runID), updated)
	})
	if err != nil {
		return err
	}
	return domainErr
}

func (s *BadgerStore) GetRun(ctx context.Context, runID string) (model.ExplorationRun, bool, error) {
	payload, ok, err := s.get(ctx, prefixRun+runID)
	if err != nil || !ok {
		return model.ExplorationRun{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.ExplorationRun{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *BadgerStore) GetRunHistory(ctx context.Context, bottleneckID string) ([]model.ExplorationRun, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var history []model.ExplorationRun
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(prefixRunIndex + bottleneckID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			runID := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get([]byte(prefixRun + runID))
			if err != nil {
				return err
			}
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			run, err := DecodeRun(payload)
			if err != nil {
				return fmt.Errorf("decode run %s: %w", runID, err)
			}
			history = append(history, run)
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("run history", err)
	}
	sortNewestFirst(history)
	return history, nil
}

func checkpointKey(c model.Checkpoint) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%012d", prefixCheckpoint, c.RunID, c.Attractor, c.Iteration))
}

func (s *BadgerStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	checkpoint = stampCheckpoint(checkpoint)
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	return s.update(ctx, "save checkpoint", func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(checkpoint), payload)
	})
}

func (s *BadgerStore) ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var checkpoints []model.Checkpoint
	err = db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixCheckpoint + runID + "/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			c, err := DecodeCheckpoint(payload)
			if err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}
			checkpoints = append(checkpoints, c)
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("list checkpoints", err)
	}
	return checkpoints, nil
}

func (s *BadgerStore) SaveSolution(ctx context.Context, solution model.Solution) (string, error) {
	solution = stampSolution(solution)
	payload, err := EncodeSolution(solution)
	if err != nil {
		return "", err
	}
	if err := s.update(ctx, "save solution", func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSolution+solution.ID), payload)
	}); err != nil {
		return "", err
	}
	return solution.ID, nil
}

func (s *BadgerStore) GetSolution(ctx context.Context, id string) (model.Solution, bool, error) {
	payload, ok, err := s.get(ctx, prefixSolution+id)
	if err != nil || !ok {
		return model.Solution{}, false, err
	}
	solution, err := DecodeSolution(payload)
	if err != nil {
		return model.Solution{}, false, fmt.Errorf("decode solution %s: %w", id, err)
	}
	return solution, true, nil
}

func (s *BadgerStore) SaveDeploymentPlan(ctx context.Context, plan model.DeploymentPlan) (string, error) {
	plan = stampDeploymentPlan(plan)
	payload, err := EncodeDeploymentPlan(plan)
	if err != nil {
		return "", err
	}
	if err := s.update(ctx, "save deployment plan", func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixPlan+plan.ID), payload)
	}); err != nil {
		return "", err
	}
	return plan.ID, nil
}

func (s *BadgerStore) GetDeploymentPlan(ctx context.Context, id string) (model.DeploymentPlan, bool, error) {
	payload, ok, err := s.get(ctx, prefixPlan+id)
	if err != nil || !ok {
		return model.DeploymentPlan{}, false, err
	}
	plan, err := DecodeDeploymentPlan(payload)
	if err != nil {
		return model.DeploymentPlan{}, false, fmt.Errorf("decode deployment plan %s: %w", id, err)
	}
	return plan, true, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB(ctx context.Context) (*badger.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func (s *BadgerStore) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		return persistenceError(op, err)
	}
	return nil
}

func (s *BadgerStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, persistenceError("get "+key, err)
	}
	return payload, true, nil
}
