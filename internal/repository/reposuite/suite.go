// Package reposuite runs a standard set of assertions against any
// repository.Repository implementation, so memory.Store and sqlite.Store
// are exercised identically by the same test bodies.
package reposuite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
)

// Run executes the compliance suite against a fresh repository produced by
// setup for each subtest. teardown is called after each subtest completes.
func Run(t *testing.T, setup func() (repository.Repository, func())) {
	t.Run("SaveAndGetJob", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobPending)
		require.NoError(t, repo.SaveJob(ctx, job))

		fetched, ok, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, job.SourceURL, fetched.SourceURL)
		assert.Equal(t, job.Status, fetched.Status)
	})

	t.Run("GetMissingJob", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		_, ok, err := repo.GetJob(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListJobsSortedByID", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		j1 := newJob(domain.JobPending)
		j2 := newJob(domain.JobPending)
		require.NoError(t, repo.SaveJob(ctx, j1))
		require.NoError(t, repo.SaveJob(ctx, j2))

		jobs, err := repo.ListJobs(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Less(t, jobs[0].JobID, jobs[1].JobID)
	})

	t.Run("DeleteJob", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobPending)
		require.NoError(t, repo.SaveJob(ctx, job))
		require.NoError(t, repo.DeleteJob(ctx, job.JobID))

		_, ok, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("NextPendingJobPrefersHighestPriority", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		low := newJob(domain.JobPending)
		low.Priority = int(domain.PriorityNormal)
		low.CreatedAt = time.Now().UTC().Add(-time.Hour)

		high := newJob(domain.JobPending)
		high.Priority = int(domain.PriorityUrgent)
		high.CreatedAt = time.Now().UTC()

		require.NoError(t, repo.SaveJob(ctx, low))
		require.NoError(t, repo.SaveJob(ctx, high))

		next, ok, err := repo.NextPendingJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, high.JobID, next.JobID)
	})

	t.Run("NextPendingJobBreaksTiesByCreatedAt", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		older := newJob(domain.JobPending)
		older.CreatedAt = time.Now().UTC().Add(-time.Minute)
		newer := newJob(domain.JobPending)
		newer.CreatedAt = time.Now().UTC()

		require.NoError(t, repo.SaveJob(ctx, newer))
		require.NoError(t, repo.SaveJob(ctx, older))

		next, ok, err := repo.NextPendingJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, older.JobID, next.JobID)
	})

	t.Run("NextPendingJobIgnoresNonPending", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobCompleted)
		require.NoError(t, repo.SaveJob(ctx, job))

		_, ok, err := repo.NextPendingJob(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateJobAppliesWhitelistedFields", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobPending)
		require.NoError(t, repo.SaveJob(ctx, job))

		newPriority := int(domain.PriorityHigh)
		ok, err := repo.UpdateJob(ctx, job.JobID, repository.JobPatch{
			Fields:   map[string]struct{}{"priority": {}},
			Priority: &newPriority,
		})
		require.NoError(t, err)
		require.True(t, ok)

		fetched, _, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, newPriority, fetched.Priority)
	})

	t.Run("UpdateJobMissingReturnsFalse", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		ok, err := repo.UpdateJob(ctx, "missing", repository.JobPatch{Fields: map[string]struct{}{}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("JobsByEngine", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobAssigned)
		job.AssignedEngine = "engine-1"
		require.NoError(t, repo.SaveJob(ctx, job))

		other := newJob(domain.JobAssigned)
		other.AssignedEngine = "engine-2"
		require.NoError(t, repo.SaveJob(ctx, other))

		jobs, err := repo.JobsByEngine(ctx, "engine-1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.JobID, jobs[0].JobID)
	})

	t.Run("UpdateProgress", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobAssigned)
		require.NoError(t, repo.SaveJob(ctx, job))
		require.NoError(t, repo.UpdateProgress(ctx, job.JobID, 42, "encoding"))

		fetched, _, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.NotNil(t, fetched.Progress)
		assert.Equal(t, 42, *fetched.Progress)
		assert.Equal(t, "encoding", fetched.ProgressNote)
	})

	t.Run("UpdateProgressMissingJob", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		err := repo.UpdateProgress(ctx, "missing", 1, "x")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("MarkFailedRetry", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobAssigned)
		require.NoError(t, repo.SaveJob(ctx, job))

		retryAfter := time.Now().UTC().Add(time.Minute)
		require.NoError(t, repo.MarkFailedRetry(ctx, job.JobID, retryAfter))

		fetched, _, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobFailedRetry, fetched.Status)
		require.NotNil(t, fetched.RetryAfter)
		assert.WithinDuration(t, retryAfter, *fetched.RetryAfter, time.Second)
	})

	t.Run("StalePendingJobs", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		stale := newJob(domain.JobPending)
		stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
		fresh := newJob(domain.JobPending)
		fresh.CreatedAt = time.Now().UTC()

		require.NoError(t, repo.SaveJob(ctx, stale))
		require.NoError(t, repo.SaveJob(ctx, fresh))

		ids, err := repo.StalePendingJobs(ctx, time.Minute)
		require.NoError(t, err)
		assert.Contains(t, ids, stale.JobID)
		assert.NotContains(t, ids, fresh.JobID)
	})

	t.Run("SaveAndGetEngine", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		engine := newEngine()
		require.NoError(t, repo.SaveEngine(ctx, engine))

		fetched, ok, err := repo.GetEngine(ctx, engine.EngineID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, engine.Hostname, fetched.Hostname)
	})

	t.Run("ListEnginesSortedByID", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		e1 := newEngine()
		e2 := newEngine()
		require.NoError(t, repo.SaveEngine(ctx, e1))
		require.NoError(t, repo.SaveEngine(ctx, e2))

		engines, err := repo.ListEngines(ctx)
		require.NoError(t, err)
		require.Len(t, engines, 2)
		assert.Less(t, engines[0].EngineID, engines[1].EngineID)
	})

	t.Run("DeleteEngine", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		engine := newEngine()
		require.NoError(t, repo.SaveEngine(ctx, engine))
		require.NoError(t, repo.DeleteEngine(ctx, engine.EngineID))

		_, ok, err := repo.GetEngine(ctx, engine.EngineID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("StaleEngines", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		stale := newEngine()
		stale.LastHeartbeat = time.Now().UTC().Add(-time.Hour)
		fresh := newEngine()
		fresh.LastHeartbeat = time.Now().UTC()

		require.NoError(t, repo.SaveEngine(ctx, stale))
		require.NoError(t, repo.SaveEngine(ctx, fresh))

		ids, err := repo.StaleEngines(ctx, time.Minute)
		require.NoError(t, err)
		assert.Contains(t, ids, stale.EngineID)
		assert.NotContains(t, ids, fresh.EngineID)
	})

	t.Run("SnapshotAndRestore", func(t *testing.T) {
		repo, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newJob(domain.JobPending)
		engine := newEngine()
		require.NoError(t, repo.SaveJob(ctx, job))
		require.NoError(t, repo.SaveEngine(ctx, engine))

		snap, err := repo.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Jobs, 1)
		require.Len(t, snap.Engines, 1)

		require.NoError(t, repo.DeleteJob(ctx, job.JobID))
		require.NoError(t, repo.DeleteEngine(ctx, engine.EngineID))

		require.NoError(t, repo.Restore(ctx, snap))

		fetched, ok, err := repo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, job.SourceURL, fetched.SourceURL)

		fetchedEngine, ok, err := repo.GetEngine(ctx, engine.EngineID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, engine.Hostname, fetchedEngine.Hostname)
	})
}

func newJob(status domain.JobStatus) domain.Job {
	now := time.Now().UTC()
	return domain.Job{
		JobID:       uuid.NewString(),
		SourceURL:   "https://example.com/src.mp4",
		TargetCodec: "h264",
		JobSize:     10,
		Priority:    int(domain.PriorityNormal),
		Status:      status,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newEngine() domain.Engine {
	return domain.Engine{
		EngineID:          uuid.NewString(),
		Hostname:          "engine.local",
		Status:            domain.EngineIdle,
		StorageCapacityGB: 100,
		LastHeartbeat:     time.Now().UTC(),
	}
}
