package runner

import (
	"context"
	"sync"

	apperrors "github.com/goliatone/go-errors"
)

// ErrGateClosed is returned by Wait once the gate is closed without a cause.
var ErrGateClosed = apperrors.New("gate closed", apperrors.CategoryOperation).
	WithTextCode("RUN_GATE_CLOSED")

// Gate lets a controller pause work cooperatively. Workers call Wait before
// each unit of work; Wait returns at once while the gate is open and blocks
// while it is paused. Closing the gate releases every waiter with an error.
type Gate struct {
	mu sync.RWMutex

	paused   bool
	resumeCh chan struct{}
	doneCh   chan struct{}
	cause    error
}

func NewGate() *Gate {
	return &Gate{
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Wait blocks while the gate is paused. It returns ctx's error if ctx ends
// first and the close cause once the gate is closed.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return ctx.Err()
	}
	for {
		g.mu.RLock()
		paused := g.paused
		resume := g.resumeCh
		done := g.doneCh
		cause := g.cause
		g.mu.RUnlock()

		select {
		case <-done:
			return cause
		default:
		}
		if !paused {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return cause
		case <-resume:
		}
	}
}

func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Pause blocks future Wait calls until Resume.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.closedLocked() {
		return
	}
	g.paused = true
	g.resumeCh = make(chan struct{})
}

// Resume releases waiters blocked by Pause.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumeCh)
}

// Close releases every waiter for good. Later Waits return cause.
func (g *Gate) Close(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closedLocked() {
		return
	}
	if cause == nil {
		cause = ErrGateClosed.Clone()
	}
	g.cause = cause
	if g.paused {
		g.paused = false
		close(g.resumeCh)
	}
	close(g.doneCh)
}

// Done is closed when the gate is closed.
func (g *Gate) Done() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.doneCh
}

func (g *Gate) closedLocked() bool {
	select {
	case <-g.doneCh:
		return true
	default:
		return false
	}
}
