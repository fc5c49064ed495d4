package domain

import (
	"fmt"
	"strings"
)

// SubmitJobParams is the validated input to a job submission.
type SubmitJobParams struct {
	SourceURL   string
	TargetCodec string
	JobSize     float64
	MaxRetries  int
	Priority    int
}

// RawSubmitJobParams carries the unvalidated fields exactly as decoded
// from a request body, distinguishing "absent" from "present but zero".
type RawSubmitJobParams struct {
	SourceURL   string
	TargetCodec string
	JobSize     *float64
	MaxRetries  *int
	Priority    *int
}

// NewSubmitJobParams validates a submission request. Unknown fields are
// the caller's responsibility to ignore (decoding simply drops them).
func NewSubmitJobParams(raw RawSubmitJobParams) (SubmitJobParams, error) {
	sourceURL := strings.TrimSpace(raw.SourceURL)
	if sourceURL == "" {
		return SubmitJobParams{}, ErrSourceURLRequired
	}

	targetCodec := strings.TrimSpace(raw.TargetCodec)
	if targetCodec == "" {
		return SubmitJobParams{}, ErrTargetCodecRequired
	}

	params := SubmitJobParams{
		SourceURL:   sourceURL,
		TargetCodec: targetCodec,
		MaxRetries:  3,
		Priority:    int(PriorityNormal),
	}

	if raw.JobSize != nil {
		if *raw.JobSize < 0 {
			return SubmitJobParams{}, ErrInvalidJobSize
		}
		params.JobSize = *raw.JobSize
	}

	if raw.MaxRetries != nil {
		if *raw.MaxRetries < 0 {
			return SubmitJobParams{}, ErrInvalidMaxRetries
		}
		params.MaxRetries = *raw.MaxRetries
	}

	if raw.Priority != nil {
		if !ValidPriority(*raw.Priority) {
			return SubmitJobParams{}, ErrInvalidPriority
		}
		params.Priority = *raw.Priority
	}

	return params, nil
}

// ValidateOutputURL checks the completion payload's output_url.
func ValidateOutputURL(outputURL string) error {
	if outputURL == "" {
		return ErrInvalidOutputURL
	}
	if !strings.HasPrefix(outputURL, "http://") && !strings.HasPrefix(outputURL, "https://") {
		return ErrInvalidOutputURL
	}
	return nil
}

// ValidateErrorMessage checks the failure payload's error_message.
func ValidateErrorMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrErrorMessageRequired
	}
	return nil
}

// ValidateProgress checks a progress update payload.
func ValidateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	return nil
}

// HeartbeatParams is the validated input to EngineRegistry.Upsert.
type HeartbeatParams struct {
	EngineID          string
	Hostname          string
	Status            *EngineStatus
	BenchmarkTime     *float64
	StreamingSupport  *bool
	StorageCapacityGB *float64
	Capabilities      map[string]any
}

// RawHeartbeatParams carries the unvalidated fields exactly as decoded
// from a heartbeat request body.
type RawHeartbeatParams struct {
	EngineID          string
	Hostname          string
	Status            *string
	BenchmarkTime     *float64
	StreamingSupport  *bool
	StorageCapacityGB *float64
	Capabilities      map[string]any
}

// NewHeartbeatParams validates a heartbeat payload.
func NewHeartbeatParams(raw RawHeartbeatParams) (HeartbeatParams, error) {
	engineID := strings.TrimSpace(raw.EngineID)
	if engineID == "" {
		return HeartbeatParams{}, ErrEngineIDRequired
	}

	params := HeartbeatParams{
		EngineID:     engineID,
		Hostname:     raw.Hostname,
		Capabilities: raw.Capabilities,
	}

	if raw.BenchmarkTime != nil {
		if *raw.BenchmarkTime < 0 {
			return HeartbeatParams{}, ErrInvalidBenchmarkTime
		}
		params.BenchmarkTime = raw.BenchmarkTime
	}

	if raw.StorageCapacityGB != nil {
		if *raw.StorageCapacityGB < 0 {
			return HeartbeatParams{}, ErrInvalidStorageCapacity
		}
		params.StorageCapacityGB = raw.StorageCapacityGB
	}

	if raw.StreamingSupport != nil {
		params.StreamingSupport = raw.StreamingSupport
	}

	if raw.Status != nil {
		status := EngineStatus(strings.ToLower(*raw.Status))
		if status != EngineIdle && status != EngineBusy {
			return HeartbeatParams{}, fmt.Errorf("%w: status must be idle or busy", ErrValidation)
		}
		params.Status = &status
	}

	return params, nil
}

// updateJobValidFields is the whitelist of fields UpdateJob may patch,
// per the repository contract (priority, max_retries, resource_requirements).
var updateJobValidFields = map[string]struct{}{
	"priority":              {},
	"max_retries":           {},
	"resource_requirements": {},
}

// ValidatePatchFields checks that every key in fields is in the whitelist.
func ValidatePatchFields(fields map[string]any) error {
	for field := range fields {
		if _, ok := updateJobValidFields[field]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownUpdateField, field)
		}
	}
	return nil
}
