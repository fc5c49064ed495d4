package handler

import (
	"context"
	"net/http"

	"github.com/segin/distconv/internal/httpapi/response"
)

// StatsProvider is the subset of coordinator.Coordinator the admin
// handler depends on.
type StatsProvider interface {
	Stats(ctx context.Context) (any, error)
}

// statsFunc adapts a concretely typed Stats method (whose return type
// the handler package does not need to know) into StatsProvider.
type statsFunc func(ctx context.Context) (any, error)

func (f statsFunc) Stats(ctx context.Context) (any, error) { return f(ctx) }

// NewStatsProvider wraps a coordinator's Stats method, whose return type
// is a concrete struct, behind the handler's any-returning interface.
func NewStatsProvider[T any](fn func(ctx context.Context) (T, error)) StatsProvider {
	return statsFunc(func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
}

// Admin exposes operational introspection endpoints.
type Admin struct {
	stats StatsProvider
}

// NewAdmin creates an Admin handler group.
func NewAdmin(stats StatsProvider) *Admin {
	return &Admin{stats: stats}
}

// Stats handles GET /api/v1/stats.
func (h *Admin) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, stats)
}
