// Package registry implements the EngineRegistry: upserting engine state
// from heartbeats and answering which engines are idle and capable.
// Grounded on the reference dispatch server's engine bookkeeping
// (engines_db keyed by engine_id, refreshed on every heartbeat) and on
// this module's repository.Repository for durability.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
)

// Registry upserts engine state from heartbeats and serves engine queries.
// It holds no state of its own beyond the repository it wraps; concurrency
// safety is the caller's (coordinator's) responsibility via the shared
// coordination lock.
type Registry struct {
	repo repository.Repository
}

// New creates a Registry backed by repo.
func New(repo repository.Repository) *Registry {
	return &Registry{repo: repo}
}

// Upsert records a heartbeat, creating the engine if unknown or refreshing
// its fields and last_heartbeat if already registered. A first heartbeat
// defaults status to idle; subsequent heartbeats only change status if the
// payload explicitly sets one, so an engine mid-job reporting a bare
// heartbeat is not bumped back to idle underneath its current job.
func (r *Registry) Upsert(ctx context.Context, params domain.HeartbeatParams) (domain.Engine, error) {
	now := time.Now().UTC()

	existing, ok, err := r.repo.GetEngine(ctx, params.EngineID)
	if err != nil {
		return domain.Engine{}, fmt.Errorf("get engine: %w", err)
	}

	engine := existing
	if !ok {
		engine = domain.Engine{
			EngineID: params.EngineID,
			Status:   domain.EngineIdle,
		}
	}

	if params.Hostname != "" {
		engine.Hostname = params.Hostname
	}
	if params.Status != nil {
		engine.Status = *params.Status
	}
	if params.BenchmarkTime != nil {
		engine.BenchmarkTime = params.BenchmarkTime
	}
	if params.StreamingSupport != nil {
		engine.StreamingSupport = *params.StreamingSupport
	}
	if params.StorageCapacityGB != nil {
		engine.StorageCapacityGB = *params.StorageCapacityGB
	}
	if params.Capabilities != nil {
		engine.Capabilities = params.Capabilities
	}
	engine.LastHeartbeat = now

	if err := r.repo.SaveEngine(ctx, engine); err != nil {
		return domain.Engine{}, fmt.Errorf("save engine: %w", err)
	}
	return engine, nil
}

// RecordBenchmark updates just an engine's benchmark_time, e.g. after an
// out-of-band self-test the worker runs independently of heartbeats.
func (r *Registry) RecordBenchmark(ctx context.Context, engineID string, benchmarkTime float64) (domain.Engine, error) {
	engine, ok, err := r.repo.GetEngine(ctx, engineID)
	if err != nil {
		return domain.Engine{}, fmt.Errorf("get engine: %w", err)
	}
	if !ok {
		return domain.Engine{}, domain.ErrEngineNotFound
	}
	engine.BenchmarkTime = &benchmarkTime
	if err := r.repo.SaveEngine(ctx, engine); err != nil {
		return domain.Engine{}, fmt.Errorf("save engine: %w", err)
	}
	return engine, nil
}

// Get returns a single engine by id.
func (r *Registry) Get(ctx context.Context, engineID string) (domain.Engine, bool, error) {
	return r.repo.GetEngine(ctx, engineID)
}

// List returns every registered engine.
func (r *Registry) List(ctx context.Context) ([]domain.Engine, error) {
	return r.repo.ListEngines(ctx)
}

// Idle returns the subset of engines currently idle, the scheduler's
// candidate pool before its own filters (benchmark presence, capacity).
func (r *Registry) Idle(ctx context.Context) ([]domain.Engine, error) {
	engines, err := r.repo.ListEngines(ctx)
	if err != nil {
		return nil, err
	}
	idle := make([]domain.Engine, 0, len(engines))
	for _, e := range engines {
		if e.Status == domain.EngineIdle {
			idle = append(idle, e)
		}
	}
	return idle, nil
}

// Deregister removes an engine explicitly (admin operation), independent
// of the reaper's stale-heartbeat sweep. Any job currently assigned to the
// engine is released back to pending with its retries left unchanged, so
// deregistration never strands a job. (The reaper's stale-engine sweep
// instead routes such jobs through statemachine.Timeout, which counts a
// retry.)
func (r *Registry) Deregister(ctx context.Context, engineID string) (int, error) {
	jobs, err := r.repo.JobsByEngine(ctx, engineID)
	if err != nil {
		return 0, fmt.Errorf("jobs by engine: %w", err)
	}

	released := 0
	for _, job := range jobs {
		if job.Status != domain.JobAssigned {
			continue
		}
		job.Status = domain.JobPending
		job.AssignedEngine = ""
		job.UpdatedAt = time.Now().UTC()
		if err := r.repo.SaveJob(ctx, job); err != nil {
			return released, fmt.Errorf("release job %s: %w", job.JobID, err)
		}
		released++
	}

	if err := r.repo.DeleteEngine(ctx, engineID); err != nil {
		return released, fmt.Errorf("delete engine: %w", err)
	}
	return released, nil
}
