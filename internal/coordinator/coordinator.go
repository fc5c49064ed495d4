// Package coordinator wires Repository, Scheduler, EngineRegistry, and
// JobStateMachine behind a single coordination lock: every mutating
// operation takes the lock, mutates via the pure helper packages,
// persists through the repository, and schedules an async snapshot
// flush, all before returning. Grounded on the shape of the reference
// application layer's GenerationCoordinator interface, generalized from
// a claim/complete/fail job queue to this service's richer job+engine
// domain.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/registry"
	"github.com/segin/distconv/internal/repository"
	"github.com/segin/distconv/internal/scheduler"
	"github.com/segin/distconv/internal/statemachine"
)

// Persister is the narrow interface AsyncPersist satisfies; the
// coordinator only ever asks it to schedule a flush after a mutation.
type Persister interface {
	Flush()
}

type noopPersister struct{}

func (noopPersister) Flush() {}

// Coordinator is the top-level coordination kernel. All exported methods
// are safe for concurrent use; each one takes the coordination lock for
// its whole duration (handlers must not hold it across outbound I/O).
type Coordinator struct {
	mu       sync.RWMutex
	repo     repository.Repository
	registry *registry.Registry
	persist  Persister
	now      func() time.Time
}

// Option customizes Coordinator construction.
type Option func(*Coordinator)

// WithPersister overrides the default no-op persister with a real
// AsyncPersist instance (or any Flush-capable stand-in for tests).
func WithPersister(p Persister) Option {
	return func(c *Coordinator) { c.persist = p }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator backed by repo.
func New(repo repository.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:     repo,
		registry: registry.New(repo),
		persist:  noopPersister{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitJob validates and creates a new pending job, allocating a fresh id.
func (c *Coordinator) SubmitJob(ctx context.Context, raw domain.RawSubmitJobParams) (domain.Job, error) {
	params, err := domain.NewSubmitJobParams(raw)
	if err != nil {
		return domain.Job{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	job := domain.Job{
		JobID:       uuid.NewString(),
		SourceURL:   params.SourceURL,
		TargetCodec: params.TargetCodec,
		JobSize:     params.JobSize,
		Priority:    params.Priority,
		Status:      domain.JobPending,
		MaxRetries:  params.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.SaveJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	c.persist.Flush()
	return job, nil
}

// GetJob returns a single job by id.
func (c *Coordinator) GetJob(ctx context.Context, id string) (domain.Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns every job.
func (c *Coordinator) ListJobs(ctx context.Context) ([]domain.Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs, err := c.repo.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return jobs, nil
}

// AssignJob runs the scheduler against idle engines and, on a match,
// transitions the chosen job and engine atomically. engineID, if
// non-empty, restricts candidates to that single engine (a client asking
// "do you have work for me specifically"). Returns ok=false when no job
// or no capable engine is available; callers map that to 204.
func (c *Coordinator) AssignJob(ctx context.Context, engineID string) (domain.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok, err := c.repo.NextPendingJob(ctx)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, false, nil
	}

	engines, err := c.repo.ListEngines(ctx)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if engineID != "" {
		engines = filterByID(engines, engineID)
	}

	chosenID, ok := scheduler.SelectEngine(job, engines)
	if !ok {
		return domain.Job{}, false, nil
	}

	engine, ok, err := c.repo.GetEngine(ctx, chosenID)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, false, nil
	}

	now := c.now()
	assignedJob, err := statemachine.Assign(job, chosenID, now)
	if err != nil {
		return domain.Job{}, false, err
	}
	engine.Status = domain.EngineBusy
	engine.CurrentJobID = assignedJob.JobID

	if err := c.repo.SaveJob(ctx, assignedJob); err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if err := c.repo.SaveEngine(ctx, engine); err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	c.persist.Flush()
	return assignedJob, true, nil
}

func filterByID(engines []domain.Engine, id string) []domain.Engine {
	for _, e := range engines {
		if e.EngineID == id {
			return []domain.Engine{e}
		}
	}
	return nil
}

// CompleteJob marks job as completed and releases its engine to idle.
func (c *Coordinator) CompleteJob(ctx context.Context, jobID, outputURL string) (domain.Job, error) {
	if err := domain.ValidateOutputURL(outputURL); err != nil {
		return domain.Job{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	engineID := job.AssignedEngine
	completed, err := statemachine.Complete(job, outputURL, c.now())
	if err != nil {
		return domain.Job{}, err
	}

	if err := c.repo.SaveJob(ctx, completed); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if err := c.releaseEngine(ctx, engineID); err != nil {
		return domain.Job{}, err
	}
	c.persist.Flush()
	return completed, nil
}

// FailJob marks job as failed, requeueing it or making it permanent
// depending on its retry budget, and releases its engine to idle.
func (c *Coordinator) FailJob(ctx context.Context, jobID, errMessage string) (domain.Job, error) {
	if err := domain.ValidateErrorMessage(errMessage); err != nil {
		return domain.Job{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	engineID := job.AssignedEngine
	failed, err := statemachine.Fail(job, errMessage, c.now())
	if err != nil {
		return domain.Job{}, err
	}

	if err := c.repo.SaveJob(ctx, failed); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if engineID != "" {
		if err := c.releaseEngine(ctx, engineID); err != nil {
			return domain.Job{}, err
		}
	}
	c.persist.Flush()
	return failed, nil
}

// CancelJob transitions any non-terminal job to cancelled, releasing its
// engine if one was assigned.
func (c *Coordinator) CancelJob(ctx context.Context, jobID string) (domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	engineID := job.AssignedEngine
	cancelled, err := statemachine.Cancel(job, c.now())
	if err != nil {
		return domain.Job{}, err
	}

	if err := c.repo.SaveJob(ctx, cancelled); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if engineID != "" {
		if err := c.releaseEngine(ctx, engineID); err != nil {
			return domain.Job{}, err
		}
	}
	c.persist.Flush()
	return cancelled, nil
}

// RetryJob is the admin operation returning a failed/failed_permanently
// job to pending with a fresh retry budget.
func (c *Coordinator) RetryJob(ctx context.Context, jobID string) (domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	retried, err := statemachine.Retry(job, c.now())
	if err != nil {
		return domain.Job{}, err
	}
	if err := c.repo.SaveJob(ctx, retried); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	c.persist.Flush()
	return retried, nil
}

// UpdateProgress records a progress update for an in-flight job.
func (c *Coordinator) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	if err := domain.ValidateProgress(progress); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.UpdateProgress(ctx, jobID, progress, message); err != nil {
		return err
	}
	c.persist.Flush()
	return nil
}

// UpdateJob applies a validated whitelisted patch to a job's scheduling fields.
func (c *Coordinator) UpdateJob(ctx context.Context, jobID string, fields map[string]any) (domain.Job, error) {
	if err := domain.ValidatePatchFields(fields); err != nil {
		return domain.Job{}, err
	}

	patch := repository.JobPatch{Fields: make(map[string]struct{}, len(fields))}
	for field, value := range fields {
		patch.Fields[field] = struct{}{}
		switch field {
		case "priority":
			if v, ok := toInt(value); ok {
				patch.Priority = &v
			}
		case "max_retries":
			if v, ok := toInt(value); ok {
				patch.MaxRetries = &v
			}
		case "resource_requirements":
			if v, ok := value.(map[string]any); ok {
				patch.ResourceRequirements = v
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.repo.UpdateJob(ctx, jobID, patch)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	c.persist.Flush()

	job, _, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return job, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Heartbeat upserts engine state via the registry.
func (c *Coordinator) Heartbeat(ctx context.Context, raw domain.RawHeartbeatParams) (domain.Engine, error) {
	params, err := domain.NewHeartbeatParams(raw)
	if err != nil {
		return domain.Engine{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	engine, err := c.registry.Upsert(ctx, params)
	if err != nil {
		return domain.Engine{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	c.persist.Flush()
	return engine, nil
}

// RecordBenchmark updates an engine's benchmark_time out of band.
func (c *Coordinator) RecordBenchmark(ctx context.Context, engineID string, benchmarkTime float64) (domain.Engine, error) {
	if benchmarkTime < 0 {
		return domain.Engine{}, domain.ErrInvalidBenchmarkTime
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	engine, err := c.registry.RecordBenchmark(ctx, engineID, benchmarkTime)
	if err != nil {
		return domain.Engine{}, err
	}
	c.persist.Flush()
	return engine, nil
}

// ListEngines returns every registered engine.
func (c *Coordinator) ListEngines(ctx context.Context) ([]domain.Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.List(ctx)
}

// DeregisterEngine removes an engine explicitly, releasing any job it held.
func (c *Coordinator) DeregisterEngine(ctx context.Context, engineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok, err := c.repo.GetEngine(ctx, engineID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return domain.ErrEngineNotFound
	}

	if _, err := c.registry.Deregister(ctx, engineID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	c.persist.Flush()
	return nil
}

// Stats is a small admin summary over current jobs and engines, grounded
// on the enhanced /api/v1/stats surface documented in SPEC_FULL.md.
type Stats struct {
	TotalJobs    int            `json:"total_jobs"`
	JobsByStatus map[string]int `json:"jobs_by_status"`
	TotalEngines int            `json:"total_engines"`
	IdleEngines  int            `json:"idle_engines"`
	BusyEngines  int            `json:"busy_engines"`
}

// Stats aggregates current job and engine counts for the admin surface.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs, err := c.repo.ListJobs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	engines, err := c.repo.ListEngines(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	stats := Stats{
		TotalJobs:    len(jobs),
		JobsByStatus: make(map[string]int),
		TotalEngines: len(engines),
	}
	for _, job := range jobs {
		stats.JobsByStatus[string(job.Status)]++
	}
	for _, e := range engines {
		if e.Status == domain.EngineIdle {
			stats.IdleEngines++
		} else {
			stats.BusyEngines++
		}
	}
	return stats, nil
}

// releaseEngine sets the named engine idle and clears its current job.
// Must be called while holding c.mu.
func (c *Coordinator) releaseEngine(ctx context.Context, engineID string) error {
	if engineID == "" {
		return nil
	}
	engine, ok, err := c.repo.GetEngine(ctx, engineID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	if !ok {
		return nil
	}
	engine.Status = domain.EngineIdle
	engine.CurrentJobID = ""
	if err := c.repo.SaveEngine(ctx, engine); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return nil
}

// RunReaperPass runs one reaper sweep: stale engines first (releasing
// their assigned jobs via timeout), then stale assigned jobs. Exposed so
// the reaper package's ticker loop can call back into the coordination
// lock it shares with every handler.
func (c *Coordinator) RunReaperPass(ctx context.Context, engineTimeout, jobTimeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	staleEngineIDs, err := c.repo.StaleEngines(ctx, engineTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	for _, engineID := range staleEngineIDs {
		jobs, err := c.repo.JobsByEngine(ctx, engineID)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		for _, job := range jobs {
			if job.Status != domain.JobAssigned {
				continue
			}
			timedOut, err := statemachine.Timeout(job, c.now())
			if err != nil {
				continue
			}
			if err := c.repo.SaveJob(ctx, timedOut); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInternal, err)
			}
		}
		if err := c.repo.DeleteEngine(ctx, engineID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
	}

	assignedJobs, err := c.repo.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	cutoff := c.now().Add(-jobTimeout)
	for _, job := range assignedJobs {
		if job.Status != domain.JobAssigned {
			continue
		}
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		engineID := job.AssignedEngine
		timedOut, err := statemachine.Timeout(job, c.now())
		if err != nil {
			continue
		}
		if err := c.repo.SaveJob(ctx, timedOut); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		if err := c.releaseEngine(ctx, engineID); err != nil {
			return err
		}
	}

	if len(staleEngineIDs) > 0 || len(assignedJobs) > 0 {
		c.persist.Flush()
	}
	return nil
}
