// Package domain holds the entity types, validation rules, and state
// transition logic shared by the repository, scheduler, and HTTP layers.
package domain

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobAssigned           JobStatus = "assigned"
	JobCompleted          JobStatus = "completed"
	JobFailed             JobStatus = "failed"
	JobFailedPermanently  JobStatus = "failed_permanently"
	JobCancelled          JobStatus = "cancelled"
	JobFailedRetry        JobStatus = "failed_retry"
	JobExpired            JobStatus = "expired"
)

// Terminal reports whether no further transitions are accepted from this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailedPermanently, JobCancelled:
		return true
	default:
		return false
	}
}

// Priority is the scheduling priority of a Job.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	PriorityUrgent Priority = 2
)

// ValidPriority reports whether p is one of the three defined levels.
func ValidPriority(p int) bool {
	return p == int(PriorityNormal) || p == int(PriorityHigh) || p == int(PriorityUrgent)
}

// EngineStatus is the availability state of an Engine.
type EngineStatus string

const (
	EngineIdle EngineStatus = "idle"
	EngineBusy EngineStatus = "busy"
)

// Job is a single unit of transcoding work.
type Job struct {
	JobID          string         `json:"job_id"`
	SourceURL      string         `json:"source_url"`
	TargetCodec    string         `json:"target_codec"`
	JobSize        float64        `json:"job_size"`
	Priority       int            `json:"priority"`
	Status         JobStatus      `json:"status"`
	AssignedEngine string         `json:"assigned_engine,omitempty"`
	OutputURL      string         `json:"output_url,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Retries        int            `json:"retries"`
	MaxRetries     int            `json:"max_retries"`
	Progress       *int           `json:"progress,omitempty"`
	ProgressNote   string         `json:"progress_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	RetryAfter     *time.Time     `json:"retry_after,omitempty"`

	// ResourceRequirements is an opaque hint bag (e.g. min RAM, GPU class)
	// stored and returned with the job; the scheduler's candidate filter
	// does not consult it. Patchable via UpdateJob.
	ResourceRequirements map[string]any `json:"resource_requirements,omitempty"`
}

// Clone returns a deep copy safe to hand out across the coordination lock boundary.
func (j Job) Clone() Job {
	out := j
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.RetryAfter != nil {
		t := *j.RetryAfter
		out.RetryAfter = &t
	}
	if j.ResourceRequirements != nil {
		reqs := make(map[string]any, len(j.ResourceRequirements))
		for k, v := range j.ResourceRequirements {
			reqs[k] = v
		}
		out.ResourceRequirements = reqs
	}
	return out
}

// Engine is a registered transcoding worker.
type Engine struct {
	EngineID           string         `json:"engine_id"`
	Hostname           string         `json:"hostname"`
	Status             EngineStatus   `json:"status"`
	BenchmarkTime      *float64       `json:"benchmark_time,omitempty"`
	StreamingSupport   bool           `json:"streaming_support"`
	StorageCapacityGB  float64        `json:"storage_capacity_gb"`
	LastHeartbeat      time.Time      `json:"last_heartbeat"`
	CurrentJobID       string         `json:"current_job_id,omitempty"`
	Capabilities       map[string]any `json:"capabilities,omitempty"`
}

// Clone returns a deep copy safe to hand out across the coordination lock boundary.
func (e Engine) Clone() Engine {
	out := e
	if e.BenchmarkTime != nil {
		b := *e.BenchmarkTime
		out.BenchmarkTime = &b
	}
	if e.Capabilities != nil {
		caps := make(map[string]any, len(e.Capabilities))
		for k, v := range e.Capabilities {
			caps[k] = v
		}
		out.Capabilities = caps
	}
	return out
}
