package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/ptr"
	"github.com/segin/distconv/internal/repository/memory"
)

func newTestCoordinator() *Coordinator {
	return New(memory.New())
}

func submitJob(t *testing.T, c *Coordinator, ctx context.Context) domain.Job {
	t.Helper()
	job, err := c.SubmitJob(ctx, domain.RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "av1",
	})
	require.NoError(t, err)
	return job
}

func heartbeat(t *testing.T, c *Coordinator, ctx context.Context, engineID string, benchmark float64) domain.Engine {
	t.Helper()
	engine, err := c.Heartbeat(ctx, domain.RawHeartbeatParams{
		EngineID:      engineID,
		Hostname:      "worker-" + engineID,
		BenchmarkTime: ptr.To(benchmark),
	})
	require.NoError(t, err)
	return engine
}

func TestSubmitJob_ValidationDelegatesToDomain(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.SubmitJob(t.Context(), domain.RawSubmitJobParams{TargetCodec: "av1"})
	assert.ErrorIs(t, err, domain.ErrSourceURLRequired)
}

func TestSubmitJob_AssignsUniqueIDsConcurrently(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()

	const n = 10000
	ids := make(chan string, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			job, err := c.SubmitJob(gctx, domain.RawSubmitJobParams{
				SourceURL:   "https://example.com/in.mp4",
				TargetCodec: "av1",
			})
			if err != nil {
				return err
			}
			ids <- job.JobID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate job id %q", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestAssignJob_CouplesJobAndEngine(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()

	job := submitJob(t, c, ctx)
	heartbeat(t, c, ctx, "engine-1", 5.0)

	assigned, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.JobID, assigned.JobID)
	assert.Equal(t, domain.JobAssigned, assigned.Status)
	assert.Equal(t, "engine-1", assigned.AssignedEngine)

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	require.Len(t, engines, 1)
	assert.Equal(t, domain.EngineBusy, engines[0].Status)
	assert.Equal(t, job.JobID, engines[0].CurrentJobID)
}

func TestAssignJob_NoIdleEngineReturnsNotOK(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()
	submitJob(t, c, ctx)

	_, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteJob_ReleasesEngine(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()

	submitJob(t, c, ctx)
	heartbeat(t, c, ctx, "engine-1", 5.0)
	assigned, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	completed, err := c.CompleteJob(ctx, assigned.JobID, "https://example.com/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, completed.Status)

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	require.Len(t, engines, 1)
	assert.Equal(t, domain.EngineIdle, engines[0].Status)
	assert.Empty(t, engines[0].CurrentJobID)
}

func TestFailJob_PermanentWhenRetryBudgetExhausted(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()

	job, err := c.SubmitJob(ctx, domain.RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "av1",
		MaxRetries:  ptr.To(1),
	})
	require.NoError(t, err)

	heartbeat(t, c, ctx, "engine-1", 5.0)
	_, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := c.FailJob(ctx, job.JobID, "boom")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailedPermanently, failed.Status, "max_retries exhausted on first failure")

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineIdle, engines[0].Status)
}

func TestCancelJob_ReleasesEngineWhenAssigned(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()

	submitJob(t, c, ctx)
	heartbeat(t, c, ctx, "engine-1", 5.0)
	assigned, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, err := c.CancelJob(ctx, assigned.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, cancelled.Status)

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineIdle, engines[0].Status)
}

func TestUpdateJob_PatchesWhitelistedFields(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()
	job := submitJob(t, c, ctx)

	updated, err := c.UpdateJob(ctx, job.JobID, map[string]any{
		"priority":    float64(2),
		"max_retries": float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Priority)
	assert.Equal(t, 5, updated.MaxRetries)
}

func TestUpdateJob_UnknownFieldRejected(t *testing.T) {
	c := newTestCoordinator()
	ctx := t.Context()
	job := submitJob(t, c, ctx)

	_, err := c.UpdateJob(ctx, job.JobID, map[string]any{"status": "completed"})
	assert.ErrorIs(t, err, domain.ErrUnknownUpdateField)
}

func TestRunReaperPass_TimesOutStaleEngineAndItsJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(memory.New(), WithClock(func() time.Time { return now }))
	ctx := t.Context()

	submitJob(t, c, ctx)
	heartbeat(t, c, ctx, "engine-1", 5.0)
	_, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(10 * time.Minute)

	require.NoError(t, c.RunReaperPass(ctx, 5*time.Minute, time.Hour))

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	assert.Empty(t, engines, "stale engine deleted")

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobPending, jobs[0].Status, "timed-out job with retry budget is requeued")
}

func TestRunReaperPass_TimesOutStaleJobOnLiveEngine(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(memory.New(), WithClock(func() time.Time { return now }))
	ctx := t.Context()

	submitJob(t, c, ctx)
	heartbeat(t, c, ctx, "engine-1", 5.0)
	_, ok, err := c.AssignJob(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(45 * time.Minute)
	heartbeat(t, c, ctx, "engine-1", 5.0) // keep the engine itself fresh

	require.NoError(t, c.RunReaperPass(ctx, 5*time.Minute, 30*time.Minute))

	engines, err := c.ListEngines(ctx)
	require.NoError(t, err)
	require.Len(t, engines, 1)
	assert.Equal(t, domain.EngineIdle, engines[0].Status, "job timeout releases its engine")
}
