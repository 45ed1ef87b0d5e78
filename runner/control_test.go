package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGate_OpenByDefault(t *testing.T) {
	g := NewGate()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Paused() {
		t.Fatal("new gate should not be paused")
	}
}

func TestGate_PauseBlocksUntilResume(t *testing.T) {
	g := NewGate()
	g.Pause()

	released := make(chan error, 1)
	go func() { released <- g.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	g.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}
}

func TestGate_ContextEndsWait(t *testing.T) {
	g := NewGate()
	g.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGate_CloseReleasesWithCause(t *testing.T) {
	g := NewGate()
	g.Pause()
	cause := errors.New("consumer stopped")

	released := make(chan error, 1)
	go func() { released <- g.Wait(context.Background()) }()
	g.Close(cause)

	select {
	case err := <-released:
		if !errors.Is(err, cause) {
			t.Fatalf("expected cause, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not release waiter")
	}

	if err := g.Wait(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("expected closed gate to keep returning cause, got %v", err)
	}
	g.Pause()
	if g.Paused() {
		t.Fatal("closed gate cannot be paused")
	}
	select {
	case <-g.Done():
	default:
		t.Fatal("done should be closed")
	}
}

func TestGate_CloseWithoutCause(t *testing.T) {
	g := NewGate()
	g.Close(nil)
	if err := g.Wait(context.Background()); err == nil {
		t.Fatal("expected gate closed error")
	}
}
