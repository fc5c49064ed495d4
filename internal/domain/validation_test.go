package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubmitJobParams_Valid(t *testing.T) {
	size := 42.5
	retries := 5
	priority := int(PriorityHigh)

	params, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "h265",
		JobSize:     &size,
		MaxRetries:  &retries,
		Priority:    &priority,
	})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/in.mp4", params.SourceURL)
	assert.Equal(t, "h265", params.TargetCodec)
	assert.Equal(t, 42.5, params.JobSize)
	assert.Equal(t, 5, params.MaxRetries)
	assert.Equal(t, int(PriorityHigh), params.Priority)
}

func TestNewSubmitJobParams_Defaults(t *testing.T) {
	params, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "h265",
	})

	require.NoError(t, err)
	assert.Equal(t, 3, params.MaxRetries)
	assert.Equal(t, int(PriorityNormal), params.Priority)
	assert.Zero(t, params.JobSize)
}

func TestNewSubmitJobParams_TrimsWhitespace(t *testing.T) {
	params, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "  https://example.com/in.mp4  ",
		TargetCodec: "  h265  ",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/in.mp4", params.SourceURL)
	assert.Equal(t, "h265", params.TargetCodec)
}

func TestNewSubmitJobParams_MissingSourceURL(t *testing.T) {
	_, err := NewSubmitJobParams(RawSubmitJobParams{TargetCodec: "h265"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceURLRequired))
}

func TestNewSubmitJobParams_MissingTargetCodec(t *testing.T) {
	_, err := NewSubmitJobParams(RawSubmitJobParams{SourceURL: "https://example.com/in.mp4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetCodecRequired))
}

func TestNewSubmitJobParams_NegativeJobSize(t *testing.T) {
	size := -1.0
	_, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "h265",
		JobSize:     &size,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidJobSize))
}

func TestNewSubmitJobParams_NegativeMaxRetries(t *testing.T) {
	retries := -1
	_, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "h265",
		MaxRetries:  &retries,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMaxRetries))
}

func TestNewSubmitJobParams_InvalidPriority(t *testing.T) {
	priority := 99
	_, err := NewSubmitJobParams(RawSubmitJobParams{
		SourceURL:   "https://example.com/in.mp4",
		TargetCodec: "h265",
		Priority:    &priority,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPriority))
}

func TestValidateOutputURL(t *testing.T) {
	testCases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com/out.mp4", false},
		{"valid https", "https://example.com/out.mp4", false},
		{"empty", "", true},
		{"missing scheme", "example.com/out.mp4", true},
		{"ftp scheme", "ftp://example.com/out.mp4", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutputURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidOutputURL))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateErrorMessage(t *testing.T) {
	require.NoError(t, ValidateErrorMessage("disk full"))

	err := ValidateErrorMessage("   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrErrorMessageRequired))
}

func TestValidateProgress(t *testing.T) {
	testCases := []struct {
		progress int
		wantErr  bool
	}{
		{0, false},
		{50, false},
		{100, false},
		{-1, true},
		{101, true},
	}

	for _, tc := range testCases {
		err := ValidateProgress(tc.progress)
		if tc.wantErr {
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidProgress))
		} else {
			require.NoError(t, err)
		}
	}
}

func TestNewHeartbeatParams_Valid(t *testing.T) {
	bench := 12.5
	capacity := 500.0
	streaming := true
	status := "idle"

	params, err := NewHeartbeatParams(RawHeartbeatParams{
		EngineID:          "engine-1",
		Hostname:          "worker-1.local",
		Status:            &status,
		BenchmarkTime:     &bench,
		StreamingSupport:  &streaming,
		StorageCapacityGB: &capacity,
		Capabilities:      map[string]any{"encoders": []string{"h264", "h265"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "engine-1", params.EngineID)
	require.NotNil(t, params.Status)
	assert.Equal(t, EngineIdle, *params.Status)
	require.NotNil(t, params.BenchmarkTime)
	assert.Equal(t, 12.5, *params.BenchmarkTime)
}

func TestNewHeartbeatParams_StatusCaseInsensitive(t *testing.T) {
	status := "BUSY"
	params, err := NewHeartbeatParams(RawHeartbeatParams{
		EngineID: "engine-1",
		Status:   &status,
	})

	require.NoError(t, err)
	require.NotNil(t, params.Status)
	assert.Equal(t, EngineBusy, *params.Status)
}

func TestNewHeartbeatParams_MissingEngineID(t *testing.T) {
	_, err := NewHeartbeatParams(RawHeartbeatParams{Hostname: "worker-1.local"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineIDRequired))
}

func TestNewHeartbeatParams_InvalidStatus(t *testing.T) {
	status := "sleeping"
	_, err := NewHeartbeatParams(RawHeartbeatParams{EngineID: "engine-1", Status: &status})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNewHeartbeatParams_NegativeBenchmarkTime(t *testing.T) {
	bench := -1.0
	_, err := NewHeartbeatParams(RawHeartbeatParams{EngineID: "engine-1", BenchmarkTime: &bench})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBenchmarkTime))
}

func TestNewHeartbeatParams_NegativeStorageCapacity(t *testing.T) {
	capacity := -1.0
	_, err := NewHeartbeatParams(RawHeartbeatParams{EngineID: "engine-1", StorageCapacityGB: &capacity})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStorageCapacity))
}

func TestValidatePatchFields(t *testing.T) {
	require.NoError(t, ValidatePatchFields(map[string]any{"priority": 1, "max_retries": 5}))
	require.NoError(t, ValidatePatchFields(map[string]any{"resource_requirements": map[string]any{"gpu": true}}))

	err := ValidatePatchFields(map[string]any{"status": "completed"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUpdateField))
}
