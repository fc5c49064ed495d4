// Package repository defines the durable jobs/engines store contract and
// provides an in-memory implementation and a SQLite-backed implementation
// that behave identically, per the dispatch server's persistence design.
package repository

import (
	"context"
	"time"

	"github.com/segin/distconv/internal/domain"
)

// JobPatch carries a whitelisted subset of job fields for UpdateJob.
// Only fields present in Fields are applied. Field names and validation
// live in domain.ValidatePatchFields; this struct is the transport the
// coordinator builds once validation passes.
type JobPatch struct {
	Fields               map[string]struct{}
	Priority             *int
	MaxRetries           *int
	ResourceRequirements map[string]any
}

// Snapshot is the full serializable image of jobs+engines state, used by
// the JSON persistence policy (see persist.AsyncPersist) regardless of
// which Repository implementation is in effect.
type Snapshot struct {
	Jobs    map[string]domain.Job    `json:"jobs"`
	Engines map[string]domain.Engine `json:"engines"`
}

// Repository is a thread-safe key/value store with two namespaces, jobs
// and engines, durable across restarts. Both implementations in this
// package (memory.Store, sqlite.Store) satisfy it identically.
type Repository interface {
	// Jobs

	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, bool, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	NextPendingJob(ctx context.Context) (domain.Job, bool, error)
	UpdateJob(ctx context.Context, id string, patch JobPatch) (bool, error)
	JobsByEngine(ctx context.Context, engineID string) ([]domain.Job, error)
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	MarkFailedRetry(ctx context.Context, id string, retryAfter time.Time) error
	StalePendingJobs(ctx context.Context, timeout time.Duration) ([]string, error)

	// Engines

	SaveEngine(ctx context.Context, engine domain.Engine) error
	GetEngine(ctx context.Context, id string) (domain.Engine, bool, error)
	ListEngines(ctx context.Context) ([]domain.Engine, error)
	DeleteEngine(ctx context.Context, id string) error
	StaleEngines(ctx context.Context, timeout time.Duration) ([]string, error)

	// Whole-state snapshot/restore, used by the JSON persistence policy.

	Snapshot(ctx context.Context) (Snapshot, error)
	Restore(ctx context.Context, snap Snapshot) error

	Close() error
}
