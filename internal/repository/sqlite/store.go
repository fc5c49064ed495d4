// Package sqlite provides a durable repository.Repository implementation
// backed by a single-file SQLite database (modernc.org/sqlite, no cgo).
// Each row stores its entity as a JSON blob alongside the columns the query
// methods filter and sort on (status, priority, assigned_engine, created_at,
// last_heartbeat; only status and assigned_engine are indexed), so
// the Go-side domain.Job/domain.Engine structs remain the single source of
// truth for the entity shape and Store never needs a generated query layer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL,
	assigned_engine TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_assigned_engine ON jobs(assigned_engine);

CREATE TABLE IF NOT EXISTS engines (
	id TEXT PRIMARY KEY,
	last_heartbeat TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
`

// Store is a SQLite-backed implementation of repository.Repository. Every
// method additionally serializes through an internal mutex: modernc.org/sqlite
// handles concurrent readers fine but this service's persistence design
// calls for one coarse lock per backend, matching memory.Store's contract
// (NextPendingJob must observe a consistent snapshot, not row-by-row reads).
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates or attaches to a SQLite database file at path and ensures
// the schema exists. WAL mode and a busy timeout are set so the coordinator
// process and any ad-hoc inspection tool (e.g. `sqlite3 data.db`) can share
// the file without lock errors, following the pragmas the reference
// connection helper applies for its own SQLite path.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single-file SQLite database does not benefit from a connection
	// pool: concurrent writers serialize at the file level regardless, and
	// modernc.org/sqlite's single-connection-per-writer model is simplest
	// to reason about under the store's own coarse mutex.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// fixedTimeLayout is RFC3339 with a fixed-width, zero-padded fractional
// part (unlike time.RFC3339Nano, which trims trailing zeros and omits the
// fraction entirely at whole seconds). A fixed width keeps the stored
// string lexically sortable in the same order as the underlying time,
// which ORDER BY created_at in NextPendingJob depends on.
const fixedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string { return t.UTC().Format(fixedTimeLayout) }

// SaveJob upserts a job record.
func (s *Store) SaveJob(ctx context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, priority, assigned_engine, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			assigned_engine = excluded.assigned_engine,
			updated_at = excluded.updated_at,
			data = excluded.data
	`, job.JobID, string(job.Status), job.Priority, job.AssignedEngine, ts(job.CreatedAt), ts(job.UpdatedAt), string(data))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func scanJob(row interface{ Scan(...any) error }) (domain.Job, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// GetJob returns the job, if present.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("get job: %w", err)
	}
	return job, true, nil
}

// ListJobs returns all jobs ordered by id.
func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryJobs(ctx, `SELECT data FROM jobs ORDER BY id`)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Job{}
	}
	return out, nil
}

// DeleteJob removes a job by id. No error if absent.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// NextPendingJob returns the highest-priority pending job, ties broken by
// earliest created_at, mirroring memory.Store's in-process selection.
func (s *Store) NextPendingJob(ctx context.Context) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM jobs
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, string(domain.JobPending))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("next pending job: %w", err)
	}
	return job, true, nil
}

// UpdateJob applies a whitelisted patch to an existing job.
func (s *Store) UpdateJob(ctx context.Context, id string, patch repository.JobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}

	if _, set := patch.Fields["priority"]; set && patch.Priority != nil {
		job.Priority = *patch.Priority
	}
	if _, set := patch.Fields["max_retries"]; set && patch.MaxRetries != nil {
		job.MaxRetries = *patch.MaxRetries
	}
	if _, set := patch.Fields["resource_requirements"]; set {
		job.ResourceRequirements = patch.ResourceRequirements
	}
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, priority = ?, assigned_engine = ?, updated_at = ?, data = ?
		WHERE id = ?
	`, string(job.Status), job.Priority, job.AssignedEngine, ts(job.UpdatedAt), string(data), id)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return true, nil
}

// JobsByEngine returns all jobs currently assigned to the given engine.
func (s *Store) JobsByEngine(ctx context.Context, engineID string) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryJobs(ctx, `SELECT data FROM jobs WHERE assigned_engine = ? ORDER BY id`, engineID)
}

// UpdateProgress refreshes a job's progress and updated_at.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	p := progress
	job.Progress = &p
	job.ProgressNote = message
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET updated_at = ?, data = ? WHERE id = ?`, ts(job.UpdatedAt), string(data), id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkFailedRetry sets status to failed_retry and records retry_after.
func (s *Store) MarkFailedRetry(ctx context.Context, id string, retryAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("mark failed retry: %w", err)
	}

	job.Status = domain.JobFailedRetry
	job.RetryAfter = &retryAfter
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ?, data = ? WHERE id = ?`,
		string(job.Status), ts(job.UpdatedAt), string(data), id)
	if err != nil {
		return fmt.Errorf("mark failed retry: %w", err)
	}
	return nil
}

// StalePendingJobs returns ids of pending jobs older than timeout.
func (s *Store) StalePendingJobs(ctx context.Context, timeout time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := ts(time.Now().UTC().Add(-timeout))
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status = ? AND created_at < ?`, string(domain.JobPending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveEngine upserts an engine record.
func (s *Store) SaveEngine(ctx context.Context, engine domain.Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(engine)
	if err != nil {
		return fmt.Errorf("marshal engine: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engines (id, last_heartbeat, created_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			data = excluded.data
	`, engine.EngineID, ts(engine.LastHeartbeat), ts(engine.LastHeartbeat), string(data))
	if err != nil {
		return fmt.Errorf("save engine: %w", err)
	}
	return nil
}

func scanEngine(row interface{ Scan(...any) error }) (domain.Engine, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return domain.Engine{}, err
	}
	var engine domain.Engine
	if err := json.Unmarshal([]byte(data), &engine); err != nil {
		return domain.Engine{}, fmt.Errorf("unmarshal engine: %w", err)
	}
	return engine, nil
}

// GetEngine returns the engine, if present.
func (s *Store) GetEngine(ctx context.Context, id string) (domain.Engine, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT data FROM engines WHERE id = ?`, id)
	engine, err := scanEngine(row)
	if err == sql.ErrNoRows {
		return domain.Engine{}, false, nil
	}
	if err != nil {
		return domain.Engine{}, false, fmt.Errorf("get engine: %w", err)
	}
	return engine, true, nil
}

// ListEngines returns all engines ordered by id.
func (s *Store) ListEngines(ctx context.Context) ([]domain.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM engines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list engines: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Engine, 0)
	for rows.Next() {
		engine, err := scanEngine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan engine: %w", err)
		}
		out = append(out, engine)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EngineID < out[j].EngineID })
	return out, nil
}

// DeleteEngine removes an engine by id. No error if absent.
func (s *Store) DeleteEngine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM engines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete engine: %w", err)
	}
	return nil
}

// StaleEngines returns ids of engines whose last_heartbeat predates timeout.
func (s *Store) StaleEngines(ctx context.Context, timeout time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := ts(time.Now().UTC().Add(-timeout))
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM engines WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale engines: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot returns the full jobs+engines state, used by the JSON
// persistence policy to mirror the durable store to disk on its own cadence.
func (s *Store) Snapshot(ctx context.Context) (repository.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.queryJobs(ctx, `SELECT data FROM jobs ORDER BY id`)
	if err != nil {
		return repository.Snapshot{}, err
	}
	snap := repository.Snapshot{
		Jobs:    make(map[string]domain.Job, len(jobs)),
		Engines: make(map[string]domain.Engine),
	}
	for _, job := range jobs {
		snap.Jobs[job.JobID] = job
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM engines`)
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("snapshot engines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		engine, err := scanEngine(rows)
		if err != nil {
			return repository.Snapshot{}, fmt.Errorf("scan engine: %w", err)
		}
		snap.Engines[engine.EngineID] = engine
	}
	if err := rows.Err(); err != nil {
		return repository.Snapshot{}, err
	}
	return snap, nil
}

// Restore replaces the full state with snap, discarding whatever was there.
// Used to seed a fresh database from a JSON snapshot file on startup.
func (s *Store) Restore(ctx context.Context, snap repository.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("restore: clear jobs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM engines`); err != nil {
		return fmt.Errorf("restore: clear engines: %w", err)
	}

	for _, job := range snap.Jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("restore: marshal job: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, status, priority, assigned_engine, created_at, updated_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, job.JobID, string(job.Status), job.Priority, job.AssignedEngine, ts(job.CreatedAt), ts(job.UpdatedAt), string(data))
		if err != nil {
			return fmt.Errorf("restore: insert job: %w", err)
		}
	}

	for _, engine := range snap.Engines {
		data, err := json.Marshal(engine)
		if err != nil {
			return fmt.Errorf("restore: marshal engine: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO engines (id, last_heartbeat, created_at, data)
			VALUES (?, ?, ?, ?)
		`, engine.EngineID, ts(engine.LastHeartbeat), ts(engine.LastHeartbeat), string(data))
		if err != nil {
			return fmt.Errorf("restore: insert engine: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("restore: commit: %w", err)
	}
	return nil
}
