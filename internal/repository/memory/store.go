// Package memory provides an in-memory repository.Repository implementation
// for tests and transient operation, guarded by a single coarse lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
)

// Store is a map-backed implementation of repository.Repository.
// All operations are serialized by a single RWMutex, matching the
// "global mutable maps plus a coarse lock" concurrency primitive this
// service carries forward from its reference implementation.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]domain.Job
	engines map[string]domain.Engine
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]domain.Job),
		engines: make(map[string]domain.Engine),
	}
}

// SaveJob upserts a job record.
func (s *Store) SaveJob(ctx context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job.Clone()
	return nil
}

// GetJob returns a copy of the job, if present.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return job.Clone(), true, nil
}

// ListJobs returns a snapshot of all jobs.
func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

// DeleteJob removes a job by id. No error if absent.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// NextPendingJob returns the highest-priority pending job, ties broken by
// earliest created_at. Reflects concurrent updates (no stale index: the
// map itself is scanned under the lock on every call).
func (s *Store) NextPendingJob(ctx context.Context) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best domain.Job
	found := false
	for _, job := range s.jobs {
		if job.Status != domain.JobPending {
			continue
		}
		if !found {
			best = job
			found = true
			continue
		}
		if job.Priority > best.Priority {
			best = job
			continue
		}
		if job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt) {
			best = job
		}
	}
	if !found {
		return domain.Job{}, false, nil
	}
	return best.Clone(), true, nil
}

// UpdateJob applies a whitelisted patch to an existing job.
func (s *Store) UpdateJob(ctx context.Context, id string, patch repository.JobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, nil
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
	s.jobs[id] = job
	return true, nil
}

// JobsByEngine returns all jobs currently assigned to the given engine.
func (s *Store) JobsByEngine(ctx context.Context, engineID string) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.AssignedEngine == engineID {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// UpdateProgress refreshes a job's progress and updated_at.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	p := progress
	job.Progress = &p
	job.ProgressNote = message
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// MarkFailedRetry sets status to failed_retry and records retry_after.
func (s *Store) MarkFailedRetry(ctx context.Context, id string, retryAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobFailedRetry
	job.RetryAfter = &retryAfter
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// StalePendingJobs returns ids of pending jobs older than timeout.
func (s *Store) StalePendingJobs(ctx context.Context, timeout time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-timeout)
	var ids []string
	for id, job := range s.jobs {
		if job.Status == domain.JobPending && job.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SaveEngine upserts an engine record.
func (s *Store) SaveEngine(ctx context.Context, engine domain.Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[engine.EngineID] = engine.Clone()
	return nil
}

// GetEngine returns a copy of the engine, if present.
func (s *Store) GetEngine(ctx context.Context, id string) (domain.Engine, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, ok := s.engines[id]
	if !ok {
		return domain.Engine{}, false, nil
	}
	return engine.Clone(), true, nil
}

// ListEngines returns a snapshot of all engines.
func (s *Store) ListEngines(ctx context.Context) ([]domain.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Engine, 0, len(s.engines))
	for _, engine := range s.engines {
		out = append(out, engine.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EngineID < out[j].EngineID })
	return out, nil
}

// DeleteEngine removes an engine by id. No error if absent.
func (s *Store) DeleteEngine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.engines, id)
	return nil
}

// StaleEngines returns ids of engines whose last_heartbeat predates timeout.
func (s *Store) StaleEngines(ctx context.Context, timeout time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-timeout)
	var ids []string
	for id, engine := range s.engines {
		if engine.LastHeartbeat.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Snapshot returns a deep copy of the full state.
func (s *Store) Snapshot(ctx context.Context) (repository.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := repository.Snapshot{
		Jobs:    make(map[string]domain.Job, len(s.jobs)),
		Engines: make(map[string]domain.Engine, len(s.engines)),
	}
	for id, job := range s.jobs {
		snap.Jobs[id] = job.Clone()
	}
	for id, engine := range s.engines {
		snap.Engines[id] = engine.Clone()
	}
	return snap, nil
}

// Restore replaces the full state with snap, discarding whatever was there.
func (s *Store) Restore(ctx context.Context, snap repository.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make(map[string]domain.Job, len(snap.Jobs))
	for id, job := range snap.Jobs {
		jobs[id] = job.Clone()
	}
	engines := make(map[string]domain.Engine, len(snap.Engines))
	for id, engine := range snap.Engines {
		engines[id] = engine.Clone()
	}
	s.jobs = jobs
	s.engines = engines
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
