// Package await tracks callers blocked on asynchronous processing so stuck
// waits can be listed, interrupted or timed out in batches.
package await

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/processor"
	"github.com/goliatone/go-exchange/scheduler"
	"github.com/goliatone/go-exchange/timeout"
)

// DefaultReapInterval is how often expired waits are reclaimed when no
// scheduler is configured.
const DefaultReapInterval = 50 * time.Millisecond

// Waiter describes one blocked caller.
type Waiter struct {
	Seq        uint64
	ExchangeID string
	Started    time.Time
	Goroutine  uint64
	// Deadline is zero for waits without a timeout.
	Deadline time.Time
}

// Stats counts waits by outcome.
type Stats struct {
	Total       int64
	Completed   int64
	Interrupted int64
	TimedOut    int64
	InFlight    int
}

type wait struct {
	Waiter
	timeout time.Duration
	release chan error
	once    sync.Once
}

// signal hands err to the blocked caller. Only the first signal counts:
// completion sends nil, a timeout or interruption sends its error.
func (w *wait) signal(err error) bool {
	sent := false
	w.once.Do(func() {
		w.release <- err
		sent = true
	})
	return sent
}

// Manager is the blocking bridge with diagnostics. Waits are keyed by an
// internal sequence, not by exchange id, so exchanges without ids can be
// tracked too.
type Manager struct {
	*lifecycle.Service

	mu    sync.Mutex
	waits map[uint64]*wait
	seq   atomic.Uint64
	index *timeout.Index[uint64, *wait]

	now          func() time.Time
	logger       exchange.Logger
	reapInterval time.Duration
	scheduler    *scheduler.Scheduler
	reapJob      scheduler.JobConfig

	reaperStop chan struct{}
	reaperDone chan struct{}
	reapHandle scheduler.Handle

	total       atomic.Int64
	completed   atomic.Int64
	interrupted atomic.Int64
	timedOut    atomic.Int64
}

type Option func(*Manager)

func WithLogger(logger exchange.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithReapInterval sets the ticker period of the built-in reaper.
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reapInterval = d
		}
	}
}

// WithScheduler reaps on a cron schedule instead of a ticker.
func WithScheduler(s *scheduler.Scheduler, cfg scheduler.JobConfig) Option {
	return func(m *Manager) {
		m.scheduler = s
		m.reapJob = cfg
	}
}

// WithNow replaces the wall clock used for start times and deadlines.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		waits:        make(map[uint64]*wait),
		now:          time.Now,
		reapInterval: DefaultReapInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = exchange.WithLoggerFields(m.logger, map[string]any{"component": "await"})
	m.index = timeout.New[uint64, *wait](timeout.WithNow[uint64, *wait](m.now))
	m.Service = lifecycle.NewService("await-manager",
		lifecycle.WithLogger(m.logger),
		lifecycle.WithStartHook(m.startReaper),
		lifecycle.WithStopHook(m.stop),
	)
	return m
}

// Process runs p and blocks until it completes, the wait is interrupted or
// ctx ends. It returns the failure recorded on the exchange.
func (m *Manager) Process(ctx context.Context, p processor.AsyncProcessor, ex *exchange.Exchange) error {
	return m.ProcessTimeout(ctx, p, ex, 0)
}

// ProcessTimeout is Process with a bound on the wait. When d elapses the
// next reap releases the caller and marks the exchange with a timeout
// failure. A non-positive d waits without a bound.
func (m *Manager) ProcessTimeout(ctx context.Context, p processor.AsyncProcessor, ex *exchange.Exchange, d time.Duration) error {
	if !m.IsRunAllowed() {
		err := exchange.NewRejectedError(m.Name(), "process", m.State().String())
		ex.SetFailure(err)
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w := m.register(ex.ID(), d)
	defer m.unregister(w)

	p.Process(ctx, ex, processor.CallbackFunc(func(bool) { w.signal(nil) }))

	select {
	case err := <-w.release:
		return m.settle(ex, err)
	case <-ctx.Done():
		err := exchange.NewInterruptedWaitError(ex.ID(), ctx.Err())
		if !w.signal(err) {
			// another outcome got there first
			return m.settle(ex, <-w.release)
		}
		m.interrupted.Add(1)
		ex.SetFailure(err)
		return err
	}
}

// settle applies the outcome handed to a wait. nil means the stage completed.
func (m *Manager) settle(ex *exchange.Exchange, err error) error {
	if err == nil {
		m.completed.Add(1)
		return ex.Failure()
	}
	ex.SetFailure(err)
	return err
}

// Browse lists the blocked callers, oldest first.
func (m *Manager) Browse() []Waiter {
	m.mu.Lock()
	out := make([]Waiter, 0, len(m.waits))
	for _, w := range m.waits {
		out = append(out, w.Waiter)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Waiter) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Interrupt releases every caller waiting on exchangeID and reports how
// many were released.
func (m *Manager) Interrupt(exchangeID string) int {
	return m.interruptWhere(func(w *wait) bool { return w.ExchangeID == exchangeID })
}

// InterruptWaiter releases the caller with the given sequence.
func (m *Manager) InterruptWaiter(seq uint64) bool {
	return m.interruptWhere(func(w *wait) bool { return w.Seq == seq }) == 1
}

// InterruptAll releases every blocked caller.
func (m *Manager) InterruptAll() int {
	return m.interruptWhere(func(*wait) bool { return true })
}

// Reap releases every wait whose deadline is at or before now and returns
// how many were released.
func (m *Manager) Reap(now time.Time) int {
	n := 0
	for _, e := range m.index.RemoveExpiredBefore(now) {
		w := e.Value
		if w.signal(exchange.NewTimeoutError(w.ExchangeID, w.timeout)) {
			m.timedOut.Add(1)
			m.logger.Warn("wait for exchange %s timed out after %s", w.ExchangeID, w.timeout)
			n++
		}
	}
	return n
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	inFlight := len(m.waits)
	m.mu.Unlock()
	return Stats{
		Total:       m.total.Load(),
		Completed:   m.completed.Load(),
		Interrupted: m.interrupted.Load(),
		TimedOut:    m.timedOut.Load(),
		InFlight:    inFlight,
	}
}

func (m *Manager) interruptWhere(match func(*wait) bool) int {
	m.mu.Lock()
	var targets []*wait
	for _, w := range m.waits {
		if match(w) {
			targets = append(targets, w)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, w := range targets {
		if !w.signal(exchange.NewInterruptedWaitError(w.ExchangeID, nil)) {
			continue
		}
		m.interrupted.Add(1)
		m.logger.Warn("wait for exchange %s interrupted on goroutine %d", w.ExchangeID, w.Goroutine)
		n++
	}
	return n
}

func (m *Manager) register(exchangeID string, d time.Duration) *wait {
	w := &wait{
		Waiter: Waiter{
			Seq:        m.seq.Add(1),
			ExchangeID: exchangeID,
			Started:    m.now(),
			Goroutine:  exchange.GoroutineID(),
		},
		timeout: d,
		release: make(chan error, 1),
	}
	if d > 0 {
		e := m.index.Add(w.Seq, w, d)
		w.Deadline = e.Expires
	}

	m.mu.Lock()
	m.waits[w.Seq] = w
	m.mu.Unlock()
	m.total.Add(1)
	return w
}

func (m *Manager) unregister(w *wait) {
	m.mu.Lock()
	delete(m.waits, w.Seq)
	m.mu.Unlock()
	if w.timeout > 0 {
		m.index.Remove(w.Seq)
	}
}

func (m *Manager) startReaper(context.Context) error {
	if m.scheduler != nil {
		h, err := m.scheduler.ScheduleCron(m.reapJob, func(context.Context) error {
			m.Reap(m.now())
			return nil
		})
		if err != nil {
			return err
		}
		m.reapHandle = h
		return nil
	}

	m.reaperStop = make(chan struct{})
	m.reaperDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Reap(m.now())
			}
		}
	}(m.reaperStop, m.reaperDone)
	return nil
}

// stop halts the reaper and releases every caller still blocked.
func (m *Manager) stop(context.Context) error {
	if m.reapHandle != nil {
		m.reapHandle.Cancel()
		m.reapHandle = nil
	}
	if m.reaperStop != nil {
		close(m.reaperStop)
		<-m.reaperDone
		m.reaperStop, m.reaperDone = nil, nil
	}
	if n := m.InterruptAll(); n > 0 {
		m.logger.Info("released %d blocked callers on stop", n)
	}
	return nil
}
