// Package persist implements the dispatch service's durability policy for
// the in-memory repository: a single JSON snapshot file, written
// atomically (temp file in the same directory, fsync, rename) and
// debounced so that a burst of mutations coalesces into one write.
// Grounded on the atomic temp-file+rename pattern from the reference
// file-backed store (internal/storage/file.go's writeJSON), adapted from
// per-key files to this service's single whole-state snapshot.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segin/distconv/internal/repository"
)

// DefaultPath is the snapshot file used when no path is configured.
const DefaultPath = "dispatch_server_state.json"

// Snapshotter is the narrow repository capability AsyncPersist needs.
type Snapshotter interface {
	Snapshot(ctx context.Context) (repository.Snapshot, error)
	Restore(ctx context.Context, snap repository.Snapshot) error
}

// AsyncPersist coalesces repeated Flush calls into a single debounced
// write: the first Flush after an idle period arms a timer; further
// Flush calls within the debounce window are absorbed into the same
// pending write. Save performs a synchronous write, for shutdown and
// test fixtures that need the write to have landed before returning.
type AsyncPersist struct {
	repo     Snapshotter
	path     string
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	// writeCount is incremented on every completed write (sync or
	// debounced) so tests can assert coalescing without sleeping on the
	// filesystem.
	writeCount int
}

// Option configures an AsyncPersist.
type Option func(*AsyncPersist)

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(p *AsyncPersist) { p.path = path }
}

// WithDebounce overrides the default 2 second coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(p *AsyncPersist) { p.debounce = d }
}

// WithLogger overrides the default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *AsyncPersist) { p.log = log }
}

// New creates an AsyncPersist writing snapshots of repo to path.
func New(repo Snapshotter, opts ...Option) *AsyncPersist {
	p := &AsyncPersist{
		repo:     repo,
		path:     DefaultPath,
		debounce: 2 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Flush schedules a debounced snapshot write. Safe to call frequently;
// calls within the debounce window of a pending write are absorbed.
func (p *AsyncPersist) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.pending {
		return
	}
	p.pending = true
	p.timer = time.AfterFunc(p.debounce, p.runDebounced)
}

func (p *AsyncPersist) runDebounced() {
	p.mu.Lock()
	p.pending = false
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	if err := p.writeSnapshot(context.Background()); err != nil {
		p.log.Error("debounced snapshot write failed", "error", err, "path", p.path)
	}
}

// Save performs an immediate synchronous write, cancelling any pending
// debounced write (its work is superseded by this one). Used on shutdown
// and by tests that need the write to be visible before returning.
func (p *AsyncPersist) Save(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.pending = false
	p.mu.Unlock()

	return p.writeSnapshot(ctx)
}

// Close stops any pending debounced write and marks the writer closed;
// further Flush calls are no-ops. Callers that need a final write on
// shutdown should call Save before Close.
func (p *AsyncPersist) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.closed = true
}

// WriteCount reports how many snapshot writes have completed, for tests
// asserting on coalescing behavior without sleeping on the filesystem.
func (p *AsyncPersist) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCount
}

func (p *AsyncPersist) writeSnapshot(ctx context.Context) error {
	snap, err := p.repo.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmpFile, err := os.CreateTemp(dir, ".distconv-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	p.mu.Lock()
	p.writeCount++
	p.mu.Unlock()

	p.log.Debug("snapshot written", "path", p.path, "jobs", len(snap.Jobs), "engines", len(snap.Engines))
	return nil
}

// Load reads the snapshot file at path and restores it into repo.
// Absent, empty, and malformed files are all tolerated: each condition
// is logged and Load starts the repository from empty state rather than
// failing, so a truncated or corrupted snapshot never blocks startup.
func Load(ctx context.Context, repo Snapshotter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("snapshot file not found, starting from empty state", "path", path)
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("snapshot file empty, starting from empty state", "path", path)
		return nil
	}

	var snap repository.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("snapshot file malformed, starting from empty state", "path", path, "error", err)
		return nil
	}
	return repo.Restore(ctx, snap)
}
