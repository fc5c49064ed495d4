package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/httpapi/response"
)

// EngineCoordinator is the subset of coordinator.Coordinator the engine
// handlers depend on.
type EngineCoordinator interface {
	Heartbeat(ctx context.Context, raw domain.RawHeartbeatParams) (domain.Engine, error)
	RecordBenchmark(ctx context.Context, engineID string, benchmarkTime float64) (domain.Engine, error)
	ListEngines(ctx context.Context) ([]domain.Engine, error)
	DeregisterEngine(ctx context.Context, engineID string) error
}

// Engines wires EngineCoordinator into chi handlers.
type Engines struct {
	coord EngineCoordinator
}

// NewEngines creates an Engines handler group.
func NewEngines(coord EngineCoordinator) *Engines {
	return &Engines{coord: coord}
}

// List handles GET /engines/.
func (h *Engines) List(w http.ResponseWriter, r *http.Request) {
	engines, err := h.coord.ListEngines(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, engines)
}

type heartbeatRequest struct {
	EngineID          string         `json:"engine_id"`
	Hostname          string         `json:"hostname"`
	Status            *string        `json:"status"`
	BenchmarkTime     *float64       `json:"benchmark_time"`
	StreamingSupport  *bool          `json:"streaming_support"`
	StorageCapacityGB *float64       `json:"storage_capacity_gb"`
	Capabilities      map[string]any `json:"capabilities"`
}

// Heartbeat handles POST /engines/heartbeat.
func (h *Engines) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	engine, err := h.coord.Heartbeat(r.Context(), domain.RawHeartbeatParams{
		EngineID:          req.EngineID,
		Hostname:          req.Hostname,
		Status:            req.Status,
		BenchmarkTime:     req.BenchmarkTime,
		StreamingSupport:  req.StreamingSupport,
		StorageCapacityGB: req.StorageCapacityGB,
		Capabilities:      req.Capabilities,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, engine)
}

type benchmarkResultRequest struct {
	EngineID      string  `json:"engine_id"`
	BenchmarkTime float64 `json:"benchmark_time"`
}

// BenchmarkResult handles POST /engines/benchmark_result.
func (h *Engines) BenchmarkResult(w http.ResponseWriter, r *http.Request) {
	var req benchmarkResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	engine, err := h.coord.RecordBenchmark(r.Context(), req.EngineID, req.BenchmarkTime)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, engine)
}

// Deregister handles DELETE /engines/{id}, the enhanced admin surface
// for removing an engine out of band from the reaper's stale sweep.
func (h *Engines) Deregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.DeregisterEngine(r.Context(), id); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}
