// Package handler implements the /jobs and /engines HTTP surface: decode
// the request, delegate to the coordinator, and render the result.
// Grounded on the reference handlers' decode-validate-call-render shape,
// generalized from todo-list CRUD to job/engine lifecycle operations.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/httpapi/response"
)

// JobCoordinator is the subset of coordinator.Coordinator the job
// handlers depend on.
type JobCoordinator interface {
	SubmitJob(ctx context.Context, raw domain.RawSubmitJobParams) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	CompleteJob(ctx context.Context, jobID, outputURL string) (domain.Job, error)
	FailJob(ctx context.Context, jobID, errMessage string) (domain.Job, error)
	RetryJob(ctx context.Context, jobID string) (domain.Job, error)
	CancelJob(ctx context.Context, jobID string) (domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress int, message string) error
	UpdateJob(ctx context.Context, jobID string, fields map[string]any) (domain.Job, error)
	AssignJob(ctx context.Context, engineID string) (domain.Job, bool, error)
}

// Jobs wires JobCoordinator into chi handlers.
type Jobs struct {
	coord JobCoordinator
}

// NewJobs creates a Jobs handler group.
func NewJobs(coord JobCoordinator) *Jobs {
	return &Jobs{coord: coord}
}

type submitJobRequest struct {
	SourceURL   string   `json:"source_url"`
	TargetCodec string   `json:"target_codec"`
	JobSize     *float64 `json:"job_size"`
	MaxRetries  *int     `json:"max_retries"`
	Priority    *int     `json:"priority"`
}

// Submit handles POST /jobs/.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	job, err := h.coord.SubmitJob(r.Context(), domain.RawSubmitJobParams{
		SourceURL:   req.SourceURL,
		TargetCodec: req.TargetCodec,
		JobSize:     req.JobSize,
		MaxRetries:  req.MaxRetries,
		Priority:    req.Priority,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, job)
}

// List handles GET /jobs/.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.coord.ListJobs(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, jobs)
}

// Get handles GET /jobs/{id}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.coord.GetJob(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

type completeJobRequest struct {
	OutputURL string `json:"output_url"`
}

// Complete handles POST /jobs/{id}/complete.
func (h *Jobs) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	job, err := h.coord.CompleteJob(r.Context(), id, req.OutputURL)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

type failJobRequest struct {
	ErrorMessage string `json:"error_message"`
}

// Fail handles POST /jobs/{id}/fail.
func (h *Jobs) Fail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	job, err := h.coord.FailJob(r.Context(), id, req.ErrorMessage)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

// Retry handles POST /jobs/{id}/retry.
func (h *Jobs) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.coord.RetryJob(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

// Cancel handles DELETE /jobs/{id}.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.coord.CancelJob(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

type progressRequest struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Progress handles POST /jobs/{id}/progress.
func (h *Jobs) Progress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	if err := h.coord.UpdateProgress(r.Context(), id, req.Progress, req.Message); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}

// Patch handles PATCH /jobs/{id}, the enhanced surface for updating
// whitelisted scheduling fields (priority, max_retries,
// resource_requirements) without going through the lifecycle verbs.
func (h *Jobs) Patch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		response.BadRequest(w, "malformed JSON body")
		return
	}

	job, err := h.coord.UpdateJob(r.Context(), id, fields)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, job)
}

type assignJobRequest struct {
	EngineID string `json:"engine_id"`
}

// Assign handles POST /assign_job/.
func (h *Jobs) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "malformed JSON body")
			return
		}
	}

	job, ok, err := h.coord.AssignJob(r.Context(), req.EngineID)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	if !ok {
		response.NoContent(w)
		return
	}
	response.OK(w, job)
}
