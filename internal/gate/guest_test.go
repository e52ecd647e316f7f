package gate

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func TestGuestGate_NeverExceedsMax(t *testing.T) {
	const max = 5
	const total = 20

	g := NewGuestGate(max, setupTestLogger())

	var mu sync.Mutex
	active := 0
	peak := 0

	release := make(chan struct{})
	started := make(chan struct{}, total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			defer g.Release()

			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			started <- struct{}{}

			<-release

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}

	// Wait until exactly max executions are inside the gate.
	for i := 0; i < max; i++ {
		<-started
	}

	// Give the remaining goroutines time to queue up.
	assert.Eventually(t, func() bool {
		s := g.Status()
		return s.Active == max && s.Queued == total-max
	}, 2*time.Second, 10*time.Millisecond)

	s := g.Status()
	assert.Equal(t, max, s.Active)
	assert.Equal(t, max, s.Max)
	assert.Equal(t, total-max, s.Queued)

	close(release)
	wg.Wait()

	mu.Lock()
	assert.Equal(t, max, peak, "gate admitted more than max concurrent executions")
	mu.Unlock()

	final := g.Status()
	assert.Equal(t, 0, final.Active)
	assert.Equal(t, 0, final.Queued)
}

func TestGuestGate_AcquireHonorsContextCancellation(t *testing.T) {
	g := NewGuestGate(1, setupTestLogger())
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The cancelled waiter must not leak a queued count.
	s := g.Status()
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 0, s.Queued)

	g.Release()
	assert.Equal(t, 0, g.Status().Active)
}

func TestGuestGate_ReleaseFreesSlotForWaiter(t *testing.T) {
	g := NewGuestGate(1, setupTestLogger())
	require.NoError(t, g.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not admitted after release")
	}
	g.Release()
}
