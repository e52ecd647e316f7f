package gate

import (
	"context"
	"log/slog"
	"sync"
)

// Status is a snapshot of the gate's admission counters.
type Status struct {
	Active int `json:"active"`
	Max    int `json:"max"`
	Queued int `json:"queued"`
}

// GuestGate limits guest callers to a fixed number of concurrently active
// executions process-wide. Acquisition blocks (fair FIFO through the
// underlying channel) until a slot frees; the gate tracks live queued and
// active counts for status reporting. The gate is orthogonal to pool
// selection: guest work runs inside its own worker pool and is additionally
// throttled here.
type GuestGate struct {
	slots chan struct{}
	max   int

	mu     sync.Mutex
	active int
	queued int

	logger *slog.Logger
}

// NewGuestGate creates a gate admitting at most max concurrent executions.
func NewGuestGate(max int, logger *slog.Logger) *GuestGate {
	if max <= 0 {
		max = 1
	}
	return &GuestGate{
		slots:  make(chan struct{}, max),
		max:    max,
		logger: logger.With("component", "guest_gate"),
	}
}

// Acquire blocks until a slot is available or the context is cancelled.
// Every successful Acquire must be paired with exactly one Release; callers
// are expected to defer the Release immediately after acquiring.
func (g *GuestGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	g.queued++
	queued := g.queued
	g.mu.Unlock()

	g.logger.Debug("waiting for guest slot", "queued", queued)

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		g.mu.Lock()
		g.queued--
		g.mu.Unlock()
		return ctx.Err()
	}

	g.mu.Lock()
	g.queued--
	g.active++
	active := g.active
	g.mu.Unlock()

	g.logger.Debug("guest slot acquired", "active", active, "max", g.max)
	return nil
}

// Release returns a slot to the gate.
func (g *GuestGate) Release() {
	g.mu.Lock()
	g.active--
	active := g.active
	g.mu.Unlock()

	<-g.slots
	g.logger.Debug("guest slot released", "active", active, "max", g.max)
}

// Status returns the current admission counters without blocking writers
// longer than the snapshot copy.
func (g *GuestGate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Active: g.active,
		Max:    g.max,
		Queued: g.queued,
	}
}
