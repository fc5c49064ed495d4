package domain

import "errors"

// Sentinel errors returned by the state machine, registry, and scheduler.
// Handlers map these to HTTP status codes via errors.Is; see httpapi/response.
var (
	// ErrNotFound indicates the requested job or engine does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrJobNotFound indicates the specified job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrEngineNotFound indicates the specified engine does not exist.
	ErrEngineNotFound = errors.New("engine not found")

	// ErrTerminalState indicates the job is in a terminal state and no
	// further transitions are accepted.
	ErrTerminalState = errors.New("job is in a terminal state")

	// ErrInvalidTransition indicates the requested transition is not
	// legal from the job's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation indicates malformed or out-of-range request data.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a missing or incorrect API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSourceURLRequired indicates source_url was missing or empty.
	ErrSourceURLRequired = errors.New("source_url is required")

	// ErrTargetCodecRequired indicates target_codec was missing or empty.
	ErrTargetCodecRequired = errors.New("target_codec is required")

	// ErrInvalidJobSize indicates job_size was present but negative or non-numeric.
	ErrInvalidJobSize = errors.New("job_size must be a non-negative number")

	// ErrInvalidMaxRetries indicates max_retries was present but negative.
	ErrInvalidMaxRetries = errors.New("max_retries must be a non-negative integer")

	// ErrInvalidPriority indicates priority was not one of {0,1,2}.
	ErrInvalidPriority = errors.New("priority must be 0, 1, or 2")

	// ErrInvalidOutputURL indicates output_url was missing or did not
	// begin with http:// or https://.
	ErrInvalidOutputURL = errors.New("output_url must be a non-empty http(s) URL")

	// ErrErrorMessageRequired indicates error_message was missing on a fail request.
	ErrErrorMessageRequired = errors.New("error_message is required")

	// ErrInvalidProgress indicates progress was outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrEngineIDRequired indicates engine_id was missing or empty.
	ErrEngineIDRequired = errors.New("engine_id is required")

	// ErrInvalidBenchmarkTime indicates benchmark_time was present but negative.
	ErrInvalidBenchmarkTime = errors.New("benchmark_time must be a non-negative number")

	// ErrInvalidStorageCapacity indicates storage_capacity_gb was present but negative.
	ErrInvalidStorageCapacity = errors.New("storage_capacity_gb must be a non-negative number")

	// ErrUnknownUpdateField indicates UpdateJob received a field outside the whitelist.
	ErrUnknownUpdateField = errors.New("unknown or non-updatable field")

	// ErrInternal wraps unexpected failures (repository write errors, etc).
	ErrInternal = errors.New("internal error")
)
