package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
	"github.com/segin/distconv/internal/repository/reposuite"
	"github.com/segin/distconv/internal/repository/sqlite"
)

func TestStoreCompliance(t *testing.T) {
	reposuite.Run(t, func() (repository.Repository, func()) {
		dir := t.TempDir()
		store, err := sqlite.Open(context.Background(), filepath.Join(dir, "distconv.db"))
		require.NoError(t, err)
		return store, func() { store.Close() }
	})
}

// TestNextPendingJob_OrdersAcrossWholeSecondBoundary pins a regression: the
// created_at tie-break column must sort lexically in the same order as the
// timestamps it stores, including across a whole-second boundary where a
// variable-width format (e.g. time.RFC3339Nano, which omits the fraction
// entirely at :00.000000000) would sort out of chronological order.
func TestNextPendingJob_OrdersAcrossWholeSecondBoundary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlite.Open(ctx, filepath.Join(dir, "distconv.db"))
	require.NoError(t, err)
	defer store.Close()

	earlier := time.Date(2026, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	later := time.Date(2026, 1, 1, 12, 0, 1, 0, time.UTC)

	require.NoError(t, store.SaveJob(ctx, domain.Job{
		JobID: "later", Status: domain.JobPending, Priority: 0,
		CreatedAt: later, UpdatedAt: later,
	}))
	require.NoError(t, store.SaveJob(ctx, domain.Job{
		JobID: "earlier", Status: domain.JobPending, Priority: 0,
		CreatedAt: earlier, UpdatedAt: earlier,
	}))

	job, ok, err := store.NextPendingJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "earlier", job.JobID)
}
