package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPasser struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubPasser) RunReaperPass(ctx context.Context, engineTimeout, jobTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubPasser) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestReaper_SweepsOnEveryTick(t *testing.T) {
	passer := &stubPasser{}
	r := New(passer, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return passer.count() >= 2 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaper_StopExitsCleanly(t *testing.T) {
	passer := &stubPasser{}
	r := New(passer, WithInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	require.Eventually(t, func() bool { return passer.count() >= 1 }, time.Second, time.Millisecond)

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop in time")
	}
}
