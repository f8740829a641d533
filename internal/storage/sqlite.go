package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"bottleneck/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// One connection serializes writers from concurrent explorations.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveBottleneck(ctx context.Context, def model.Definition) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	b := newBottleneck(def)
	payload, err := EncodeBottleneck(b)
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO bottlenecks (id, domain, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, def.Domain, b.SchemaVersion, b.CodecVersion, payload)
	if err != nil {
		return "", persistenceError("save bottleneck", err)
	}
	return b.ID, nil
}

func (s *SQLiteStore) GetBottleneck(ctx context.Context, id string) (model.Bottleneck, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM bottlenecks WHERE id = ?`, id)
	if err != nil || !ok {
		return model.Bottleneck{}, false, err
	}
	b, err := DecodeBottleneck(payload)
	if err != nil {
		return model.Bottleneck{}, false, fmt.Errorf("decode bottleneck %s: %w", id, err)
	}
	return b, true, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, bottleneckID, strategy string, iterationBudget int) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	run := newRun(bottleneckID, strategy, iterationBudget)
	if err := upsertRun(ctx, db, run); err != nil {
		return "", persistenceError("create run", err)
	}
	return run.ID, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string) error {
	return s.updateRun(ctx, runID, startRun)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, outcome RunOutcome) error {
	return s.updateRun(ctx, runID, func(run *model.ExplorationRun) error {
		return completeRun(run, outcome)
	})
}

func (s *SQLiteStore) updateRun(ctx context.Context, runID string, apply func(*model.ExplorationRun) error) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("begin run update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return missing("run", runID)
		}
		return persistenceError("load run", err)
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return fmt.Errorf("decode run %s: %w", runID, err)
	}
	if err := apply(&run); err != nil {
		return err
	}
	if err := upsertRun(ctx, tx, run); err != nil {
		return persistenceError("update run", err)
	}
	if err := tx.Commit(); err != nil {
		return persistenceError("commit run update", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRun(ctx context.Context, db execer, run model.ExplorationRun) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, bottleneck_id, status, started_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`, run.ID, run.BottleneckID, string(run.Status), run.StartedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (model.ExplorationRun, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM runs WHERE id = ?`, runID)
	if err != nil || !ok {
		return model.ExplorationRun{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.ExplorationRun{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) GetRunHistory(ctx context.Context, bottleneckID string) ([]model.ExplorationRun, error) {
	payloads, err := s.payloads(ctx, `
		SELECT payload FROM runs WHERE bottleneck_id = ?
		ORDER BY started_at DESC, id ASC
	`, bottleneckID)
	if err != nil {
		return nil, err
	}
	history := make([]model.ExplorationRun, 0, len(payloads))
	for _, payload := range payloads {
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run history %s: %w", bottleneckID, err)
		}
		history = append(history, run)
	}
	return history, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	checkpoint = stampCheckpoint(checkpoint)
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, attractor, iteration, payload)
		VALUES (?, ?, ?, ?)
	`, checkpoint.RunID, checkpoint.Attractor, checkpoint.Iteration, payload)
	if err != nil {
		return persistenceError("save checkpoint", err)
	}
	return nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	payloads, err := s.payloads(ctx, `
		SELECT payload FROM checkpoints WHERE run_id = ?
		ORDER BY attractor ASC, iteration ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	checkpoints := make([]model.Checkpoint, 0, len(payloads))
	for _, payload := range payloads {
		c, err := DecodeCheckpoint(payload)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoints %s: %w", runID, err)
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, nil
}

func (s *SQLiteStore) SaveSolution(ctx context.Context, solution model.Solution) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	solution = stampSolution(solution)
	payload, err := EncodeSolution(solution)
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO solutions (id, bottleneck_id, run_id, score, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			score = excluded.score,
			payload = excluded.payload
	`, solution.ID, solution.BottleneckID, solution.RunID, solution.Score, payload)
	if err != nil {
		return "", persistenceError("save solution", err)
	}
	return solution.ID, nil
}

func (s *SQLiteStore) GetSolution(ctx context.Context, id string) (model.Solution, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM solutions WHERE id = ?`, id)
	if err != nil || !ok {
		return model.Solution{}, false, err
	}
	solution, err := DecodeSolution(payload)
	if err != nil {
		return model.Solution{}, false, fmt.Errorf("decode solution %s: %w", id, err)
	}
	return solution, true, nil
}

func (s *SQLiteStore) SaveDeploymentPlan(ctx context.Context, plan model.DeploymentPlan) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	plan = stampDeploymentPlan(plan)
	payload, err := EncodeDeploymentPlan(plan)
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO deployment_plans (id, run_id, status, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`, plan.ID, plan.RunID, plan.Status, payload)
	if err != nil {
		return "", persistenceError("save deployment plan", err)
	}
	return plan.ID, nil
}

func (s *SQLiteStore) GetDeploymentPlan(ctx context.Context, id string) (model.DeploymentPlan, bool, error) {
	payload, ok, err := s.payload(ctx, `SELECT payload FROM deployment_plans WHERE id = ?`, id)
	if err != nil || !ok {
		return model.DeploymentPlan{}, false, err
	}
	plan, err := DecodeDeploymentPlan(payload)
	if err != nil {
		return model.DeploymentPlan{}, false, fmt.Errorf("decode deployment plan %s: %w", id, err)
	}
	return plan, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func (s *SQLiteStore) payload(ctx context.Context, query string, arg string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, query, arg).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, persistenceError("query", err)
	}
	return payload, true, nil
}

func (s *SQLiteStore) payloads(ctx context.Context, query string, arg string) ([][]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, persistenceError("query", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistenceError("scan", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate", err)
	}
	return out, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bottlenecks (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			bottleneck_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_by_bottleneck ON runs (bottleneck_id, started_at);
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			attractor TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, attractor, iteration)
		);
		CREATE TABLE IF NOT EXISTS solutions (
			id TEXT PRIMARY KEY,
			bottleneck_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			score REAL NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS deployment_plans (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
