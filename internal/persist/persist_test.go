package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segin/distconv/internal/domain"
	"github.com/segin/distconv/internal/repository"
)

type fakeSnapshotter struct {
	mu   sync.Mutex
	snap repository.Snapshot
}

func newFakeSnapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{snap: repository.Snapshot{
		Jobs:    map[string]domain.Job{},
		Engines: map[string]domain.Engine{},
	}}
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context) (repository.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeSnapshotter) Restore(ctx context.Context, snap repository.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	return nil
}

func (f *fakeSnapshotter) addJob(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Jobs[id] = domain.Job{JobID: id, Status: domain.JobPending}
}

func TestSave_WritesSnapshotImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	fake := newFakeSnapshotter()
	fake.addJob("job-1")

	p := New(fake, WithPath(path))
	require.NoError(t, p.Save(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap repository.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Contains(t, snap.Jobs, "job-1")
	assert.Equal(t, 1, p.WriteCount())
}

func TestFlush_CoalescesBurstIntoOneWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	fake := newFakeSnapshotter()

	p := New(fake, WithPath(path), WithDebounce(20*time.Millisecond))

	for i := 0; i < 10; i++ {
		p.Flush()
	}

	require.Eventually(t, func() bool { return p.WriteCount() == 1 }, time.Second, time.Millisecond)

	// Further flushes after the debounce window settles should schedule
	// exactly one more write, not one per call.
	time.Sleep(25 * time.Millisecond)
	for i := 0; i < 5; i++ {
		p.Flush()
	}
	require.Eventually(t, func() bool { return p.WriteCount() == 2 }, time.Second, time.Millisecond)
}

func TestClose_SuppressesPendingWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	fake := newFakeSnapshotter()

	p := New(fake, WithPath(path), WithDebounce(20*time.Millisecond))
	p.Flush()
	p.Close()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, p.WriteCount())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")
	fake := newFakeSnapshotter()

	err := Load(context.Background(), fake, path)
	require.NoError(t, err)
}

func TestLoad_RestoresExistingSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	fake := newFakeSnapshotter()
	fake.addJob("job-1")

	p := New(fake, WithPath(path))
	require.NoError(t, p.Save(context.Background()))

	restoreInto := newFakeSnapshotter()
	require.NoError(t, Load(context.Background(), restoreInto, path))
	assert.Contains(t, restoreInto.snap.Jobs, "job-1")
}

func TestLoad_EmptyFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	fake := newFakeSnapshotter()
	err := Load(context.Background(), fake, path)
	require.NoError(t, err)
}

func TestLoad_MalformedFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	fake := newFakeSnapshotter()
	err := Load(context.Background(), fake, path)
	require.NoError(t, err)
}
