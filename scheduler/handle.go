package scheduler

import (
	"context"
	"sync"
)

// Status reports where a scheduled job is in its life.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func isTerminalStatus(s Status) bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusStopped:
		return true
	}
	return false
}

// Handle controls a scheduled job. Done closes once the job can no longer
// fire: it completed its run budget, was canceled, or the scheduler stopped.
// A failed recurring job keeps firing; its last error is exposed by Err.
type Handle interface {
	Cancel()
	Status() Status
	Err() error
	Done() <-chan struct{}
	ID() int64
}

type handle struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.RWMutex
	status Status
	err    error
	once   sync.Once
}

// Cancel unschedules the job and cancels the context of a running firing.
func (h *handle) Cancel() {
	if h == nil {
		return
	}
	h.finish(StatusCanceled, nil)
}

func (h *handle) Status() Status {
	if h == nil {
		return StatusStopped
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *handle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *handle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

func (h *handle) ID() int64 {
	if h == nil {
		return 0
	}
	return h.id
}

// finish moves the handle to a terminal state exactly once.
func (h *handle) finish(status Status, err error) {
	h.once.Do(func() {
		if h.scheduler != nil {
			h.scheduler.removeHandle(h.id)
		}
		h.setTerminal(status, err)
		h.cancel()
	})
}

// stop is finish for a handle the scheduler already dropped.
func (h *handle) stop() {
	h.once.Do(func() {
		h.setTerminal(StatusStopped, nil)
		h.cancel()
	})
}

// setStatus records a non-terminal status. It is ignored once the handle is done.
func (h *handle) setStatus(status Status, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closedLocked() {
		return
	}
	h.status = status
	h.err = err
}

func (h *handle) setTerminal(status Status, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.err = err
	if !h.closedLocked() {
		close(h.done)
	}
}

func (h *handle) closedLocked() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
