package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository/memory"
)

func TestUpsert_CreatesNewEngineIdleByDefault(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	engine, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1", Hostname: "h1"})
	require.NoError(t, err)
	assert.Equal(t, domain.EngineIdle, engine.Status)
	assert.Equal(t, "h1", engine.Hostname)
	assert.False(t, engine.LastHeartbeat.IsZero())
}

func TestUpsert_RefreshesExistingEngine(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	_, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1", Hostname: "h1"})
	require.NoError(t, err)

	busy := domain.EngineBusy
	engine, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1", Status: &busy})
	require.NoError(t, err)
	assert.Equal(t, domain.EngineBusy, engine.Status)
	assert.Equal(t, "h1", engine.Hostname, "hostname from first heartbeat should persist")
}

func TestUpsert_BareHeartbeatDoesNotResetStatus(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	busy := domain.EngineBusy
	_, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1", Status: &busy})
	require.NoError(t, err)

	engine, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, domain.EngineBusy, engine.Status)
}

func TestRecordBenchmark(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	_, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1"})
	require.NoError(t, err)

	engine, err := reg.RecordBenchmark(ctx, "e1", 42.0)
	require.NoError(t, err)
	require.NotNil(t, engine.BenchmarkTime)
	assert.Equal(t, 42.0, *engine.BenchmarkTime)
}

func TestRecordBenchmark_MissingEngine(t *testing.T) {
	reg := New(memory.New())
	_, err := reg.RecordBenchmark(context.Background(), "missing", 1.0)
	assert.ErrorIs(t, err, domain.ErrEngineNotFound)
}

func TestIdle_FiltersBusyEngines(t *testing.T) {
	reg := New(memory.New())
	ctx := context.Background()

	busy := domain.EngineBusy
	_, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1", Status: &busy})
	require.NoError(t, err)
	_, err = reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e2"})
	require.NoError(t, err)

	idle, err := reg.Idle(ctx)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "e2", idle[0].EngineID)
}

func TestDeregister_ReleasesAssignedJobs(t *testing.T) {
	repo := memory.New()
	reg := New(repo)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, domain.HeartbeatParams{EngineID: "e1"})
	require.NoError(t, err)

	require.NoError(t, repo.SaveJob(ctx, domain.Job{
		JobID:          "job-1",
		Status:         domain.JobAssigned,
		AssignedEngine: "e1",
	}))

	released, err := reg.Deregister(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	job, ok, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Empty(t, job.AssignedEngine)

	_, ok, err = repo.GetEngine(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)
}
