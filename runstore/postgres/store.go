package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/runkv/objectstore"
	"github.com/animus-labs/runkv/runstore"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed run store. Artifact bytes never touch the
// database; they go through the artifact store under the run's key
// prefix.
type Store struct {
	db        DB
	artifacts objectstore.Store
}

func New(db DB, artifacts objectstore.Store) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	return &Store{db: db, artifacts: artifacts}, nil
}

// EnsureSchema creates the backing tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv_experiments (
			experiment_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv_runs (
			run_id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL REFERENCES kv_experiments(experiment_id),
			status TEXT NOT NULL,
			lifecycle TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			tags JSONB NOT NULL DEFAULT '{}'::jsonb,
			params JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS kv_runs_experiment_idx ON kv_runs (experiment_id)`,
		`CREATE INDEX IF NOT EXISTS kv_runs_tags_idx ON kv_runs USING GIN (tags)`,
		`CREATE TABLE IF NOT EXISTS kv_metrics (
			run_id TEXT NOT NULL REFERENCES kv_runs(run_id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			step BIGINT NOT NULL,
			logged_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS kv_metrics_run_idx ON kv_metrics (run_id, key)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("experiment name is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv_experiments (experiment_id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(),
		name,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert experiment: %w", err)
	}
	var id string
	row := s.db.QueryRowContext(ctx, `SELECT experiment_id FROM kv_experiments WHERE name = $1`, name)
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("select experiment: %w", handleNotFound(err))
	}
	return id, nil
}

func (s *Store) CreateRun(ctx context.Context, experimentID string, tags map[string]string) (runstore.Run, error) {
	if s == nil || s.db == nil {
		return runstore.Run{}, fmt.Errorf("store not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return runstore.Run{}, errors.New("experiment id is required")
	}
	run := runstore.Run{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Status:       runstore.StatusRunning,
		Lifecycle:    runstore.LifecycleActive,
		StartedAt:    time.Now().UTC(),
		Tags:         map[string]string{},
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	tagsJSON, err := encodeStringMap(run.Tags)
	if err != nil {
		return runstore.Run{}, fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO kv_runs (run_id, experiment_id, status, lifecycle, started_at, tags, params)
		 VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb)`,
		run.ID,
		run.ExperimentID,
		string(run.Status),
		string(run.Lifecycle),
		run.StartedAt,
		tagsJSON,
	)
	if err != nil {
		return runstore.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run.Clone(), nil
}

const runColumns = `run_id, experiment_id, status, lifecycle, started_at, ended_at, tags, params`

func scanRun(scan func(...any) error) (runstore.Run, error) {
	var run runstore.Run
	var status, lifecycle string
	var endedAt sql.NullTime
	var tagsJSON, paramsJSON []byte
	if err := scan(&run.ID, &run.ExperimentID, &status, &lifecycle, &run.StartedAt, &endedAt, &tagsJSON, &paramsJSON); err != nil {
		return runstore.Run{}, err
	}
	run.Status = runstore.RunStatus(status)
	run.Lifecycle = runstore.LifecycleStage(lifecycle)
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	var err error
	if run.Tags, err = decodeStringMap(tagsJSON); err != nil {
		return runstore.Run{}, fmt.Errorf("decode tags: %w", err)
	}
	if run.Params, err = decodeStringMap(paramsJSON); err != nil {
		return runstore.Run{}, fmt.Errorf("decode params: %w", err)
	}
	return run, nil
}

func (s *Store) readRun(ctx context.Context, runID string) (runstore.Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return runstore.Run{}, errors.New("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM kv_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row.Scan)
	if err != nil {
		return runstore.Run{}, fmt.Errorf("run %s: %w", runID, handleNotFound(err))
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (runstore.Run, error) {
	if s == nil || s.db == nil {
		return runstore.Run{}, fmt.Errorf("store not initialized")
	}
	run, err := s.readRun(ctx, runID)
	if err != nil {
		return runstore.Run{}, err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return runstore.Run{}, fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	metrics, err := s.loadMetrics(ctx, runID)
	if err != nil {
		return runstore.Run{}, err
	}
	run.Metrics = metrics
	return run, nil
}

func (s *Store) loadMetrics(ctx context.Context, runID string) (map[string][]runstore.Metric, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT key, value, step, logged_at FROM kv_metrics WHERE run_id = $1 ORDER BY logged_at, step`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	defer rows.Close()

	metrics := map[string][]runstore.Metric{}
	for rows.Next() {
		var key string
		var m runstore.Metric
		if err := rows.Scan(&key, &m.Value, &m.Step, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics[key] = append(metrics[key], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if len(metrics) == 0 {
		return nil, nil
	}
	return metrics, nil
}

// requireActive resolves the run's lifecycle before a mutation so
// missing and deleted runs surface as distinct errors.
func (s *Store) requireActive(ctx context.Context, runID string) error {
	run, err := s.readRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	return nil
}

func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE kv_runs SET lifecycle = $1 WHERE run_id = $2`,
		string(runstore.LifecycleDeleted),
		runID,
	)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, runstore.ErrNotFound)
	}
	return nil
}

func (s *Store) SetTag(ctx context.Context, runID, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := s.requireActive(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE kv_runs SET tags = tags || jsonb_build_object($2::text, $3::text) WHERE run_id = $1`,
		runID,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("set tag: %w", err)
	}
	return nil
}

func (s *Store) LogParam(ctx context.Context, runID, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := s.requireActive(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE kv_runs SET params = params || jsonb_build_object($2::text, $3::text) WHERE run_id = $1`,
		runID,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("log param: %w", err)
	}
	return nil
}

func (s *Store) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := s.requireActive(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv_metrics (run_id, key, value, step, logged_at) VALUES ($1, $2, $3, $4, $5)`,
		runID,
		key,
		value,
		step,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("log metric: %w", err)
	}
	return nil
}

func (s *Store) SetTerminated(ctx context.Context, runID string, status runstore.RunStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if status == "" {
		status = runstore.StatusFinished
	}
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	if err := s.requireActive(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE kv_runs SET status = $2, ended_at = $3 WHERE run_id = $1`,
		runID,
		string(status),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("terminate run: %w", err)
	}
	return nil
}

func (s *Store) SearchRuns(ctx context.Context, experimentID string, filter runstore.Filter, maxResults int) ([]runstore.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	query, args, err := buildSearchQuery(experimentID, filter, maxResults)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	defer rows.Close()

	var runs []runstore.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	return runs, nil
}

func buildSearchQuery(experimentID string, filter runstore.Filter, maxResults int) (string, []any, error) {
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return "", nil, errors.New("experiment id is required")
	}
	if maxResults <= 0 || maxResults > runstore.MaxSearchResults {
		maxResults = runstore.MaxSearchResults
	}

	args := []any{experimentID}
	clauses := []string{"experiment_id = $1", "lifecycle = 'active'"}
	if len(filter.Tags) > 0 {
		tagsJSON, err := encodeStringMap(filter.Tags)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter tags: %w", err)
		}
		args = append(args, tagsJSON)
		clauses = append(clauses, fmt.Sprintf("tags @> $%d::jsonb", len(args)))
	}
	if filter.OnlyFinished {
		args = append(args, string(runstore.StatusFinished))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, maxResults)

	query := `SELECT ` + runColumns + ` FROM kv_runs WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(" ORDER BY started_at DESC, run_id LIMIT $%d", len(args))
	return query, args, nil
}

func encodeStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeStringMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return runstore.ErrNotFound
	}
	return err
}
