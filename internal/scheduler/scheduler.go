// Package scheduler implements the dispatch service's matching policy:
// pure functions over a snapshot of pending jobs and idle engines, with no
// state of their own. SelectEngine implements the size-bucket policy the
// compliance tests pin; EngineScore is the richer scored variant kept
// available for callers that want it, both grounded on the reference
// dispatch server's calculate_engine_score and calculate_retry_delay.
package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/segin/distconv/internal/domain"
)

// Size bucket thresholds, in MB. A job under SmallJobThresholdMB is small;
// at or above LargeJobThresholdMB it is large; otherwise medium.
const (
	SmallJobThresholdMB = 50.0
	LargeJobThresholdMB = 100.0
)

const mbPerGB = 1024.0

// candidateEngines returns idle engines with a recorded benchmark and
// enough storage capacity for job, sorted by benchmark_time ascending
// (fastest first), ties broken by engine id for determinism.
func candidateEngines(job domain.Job, engines []domain.Engine) []domain.Engine {
	var candidates []domain.Engine
	for _, e := range engines {
		if e.Status != domain.EngineIdle {
			continue
		}
		if e.BenchmarkTime == nil {
			continue
		}
		if e.StorageCapacityGB < job.JobSize/mbPerGB {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		bi, bj := *candidates[i].BenchmarkTime, *candidates[j].BenchmarkTime
		if bi != bj {
			return bi < bj
		}
		return candidates[i].EngineID < candidates[j].EngineID
	})
	return candidates
}

// SelectEngine returns the engine id to assign job to, and whether any
// engine qualified. Implements the size-bucket policy from the scheduler
// contract: small jobs go to the slowest idle candidate (reserving fast
// engines for large work), large jobs prefer a streaming-capable
// candidate, and medium jobs go to the fastest candidate.
func SelectEngine(job domain.Job, engines []domain.Engine) (string, bool) {
	candidates := candidateEngines(job, engines)
	if len(candidates) == 0 {
		return "", false
	}

	switch {
	case job.JobSize >= LargeJobThresholdMB:
		for _, e := range candidates {
			if e.StreamingSupport {
				return e.EngineID, true
			}
		}
		return candidates[0].EngineID, true
	case job.JobSize < SmallJobThresholdMB:
		return candidates[len(candidates)-1].EngineID, true
	default:
		return candidates[0].EngineID, true
	}
}

// EngineScore is the richer scored variant from the reference scheduler:
// base 100, plus a speed bonus, a large-job-streaming bonus, a storage
// headroom bonus, and a heartbeat-freshness bonus. Kept available for
// callers that prefer ranked scoring over the size-bucket policy; the
// compliance suite pins the size-bucket behavior, not this function.
func EngineScore(engine domain.Engine, job domain.Job, now time.Time) float64 {
	score := 100.0

	if engine.BenchmarkTime != nil && *engine.BenchmarkTime > 0 {
		score += 100.0 / *engine.BenchmarkTime
	}

	if job.JobSize >= LargeJobThresholdMB && engine.StreamingSupport {
		score += 20.0
	}

	if engine.StorageCapacityGB > (job.JobSize/mbPerGB)*2 {
		score += 10.0
	}

	age := now.Sub(engine.LastHeartbeat)
	switch {
	case age < time.Minute:
		score += 15.0
	case age < 5*time.Minute:
		score += 5.0
	}

	return score
}

// RetryDelay computes the exponential backoff delay for a job about to be
// retried for the retryCount-th time: 1, 2, 4, 8, 16 minutes, capped at 30.
func RetryDelay(retryCount int) time.Duration {
	minutes := math.Min(math.Pow(2, float64(retryCount)), 30)
	return time.Duration(minutes) * time.Minute
}
