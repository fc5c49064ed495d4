package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segin/distconv/internal/domain"
)

func bench(v float64) *float64 { return &v }

func idleEngine(id string, benchmarkTime float64, streaming bool) domain.Engine {
	return domain.Engine{
		EngineID:          id,
		Status:            domain.EngineIdle,
		BenchmarkTime:     bench(benchmarkTime),
		StreamingSupport:  streaming,
		StorageCapacityGB: 1000,
		LastHeartbeat:     time.Now().UTC(),
	}
}

func TestSelectEngine_SmallJobGoesToSlowest(t *testing.T) {
	job := domain.Job{JobSize: 10}
	engines := []domain.Engine{
		idleEngine("e1", 100, false),
		idleEngine("e2", 200, false),
	}

	id, ok := SelectEngine(job, engines)
	require.True(t, ok)
	assert.Equal(t, "e2", id)
}

func TestSelectEngine_MediumJobGoesToFastest(t *testing.T) {
	job := domain.Job{JobSize: 75}
	engines := []domain.Engine{
		idleEngine("e1", 100, false),
		idleEngine("e2", 200, false),
	}

	id, ok := SelectEngine(job, engines)
	require.True(t, ok)
	assert.Equal(t, "e1", id)
}

func TestSelectEngine_LargeJobPrefersStreaming(t *testing.T) {
	job := domain.Job{JobSize: 200}
	engines := []domain.Engine{
		idleEngine("e1", 200, false),
		idleEngine("e2", 100, true),
	}

	id, ok := SelectEngine(job, engines)
	require.True(t, ok)
	assert.Equal(t, "e2", id)
}

func TestSelectEngine_LargeJobFallsBackToFastestWithoutStreaming(t *testing.T) {
	job := domain.Job{JobSize: 200}
	engines := []domain.Engine{
		idleEngine("e1", 200, false),
		idleEngine("e2", 100, false),
	}

	id, ok := SelectEngine(job, engines)
	require.True(t, ok)
	assert.Equal(t, "e2", id)
}

func TestSelectEngine_ExcludesBusyEngines(t *testing.T) {
	job := domain.Job{JobSize: 10}
	busy := idleEngine("e1", 50, false)
	busy.Status = domain.EngineBusy

	_, ok := SelectEngine(job, []domain.Engine{busy})
	assert.False(t, ok)
}

func TestSelectEngine_ExcludesEngineWithoutBenchmark(t *testing.T) {
	job := domain.Job{JobSize: 10}
	engine := idleEngine("e1", 50, false)
	engine.BenchmarkTime = nil

	_, ok := SelectEngine(job, []domain.Engine{engine})
	assert.False(t, ok)
}

func TestSelectEngine_ExcludesInsufficientStorage(t *testing.T) {
	job := domain.Job{JobSize: 200 * 1024} // 200 GB in MB
	engine := idleEngine("e1", 50, false)
	engine.StorageCapacityGB = 10

	_, ok := SelectEngine(job, []domain.Engine{engine})
	assert.False(t, ok)
}

func TestSelectEngine_NoCandidates(t *testing.T) {
	_, ok := SelectEngine(domain.Job{JobSize: 10}, nil)
	assert.False(t, ok)
}

func TestSelectEngine_TiesBrokenByEngineID(t *testing.T) {
	job := domain.Job{JobSize: 75}
	engines := []domain.Engine{
		idleEngine("e2", 100, false),
		idleEngine("e1", 100, false),
	}

	id, ok := SelectEngine(job, engines)
	require.True(t, ok)
	assert.Equal(t, "e1", id)
}

func TestRetryDelay(t *testing.T) {
	testCases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 30 * time.Minute},
		{10, 30 * time.Minute},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, RetryDelay(tc.retryCount))
	}
}

func TestEngineScore_FavorsFasterEngines(t *testing.T) {
	now := time.Now().UTC()
	fast := idleEngine("e1", 50, false)
	slow := idleEngine("e2", 200, false)
	fast.LastHeartbeat = now
	slow.LastHeartbeat = now

	job := domain.Job{JobSize: 10}
	assert.Greater(t, EngineScore(fast, job, now), EngineScore(slow, job, now))
}

func TestEngineScore_LargeJobStreamingBonus(t *testing.T) {
	now := time.Now().UTC()
	streaming := idleEngine("e1", 100, true)
	nonStreaming := idleEngine("e2", 100, false)
	streaming.LastHeartbeat = now
	nonStreaming.LastHeartbeat = now

	job := domain.Job{JobSize: 200}
	assert.Greater(t, EngineScore(streaming, job, now), EngineScore(nonStreaming, job, now))
}
