package await

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/processor"
	"github.com/goliatone/go-exchange/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// afterDelay completes asynchronously once d has passed.
func afterDelay(d time.Duration) processor.AsyncProcessor {
	return processor.AsyncFunc(func(_ context.Context, ex *exchange.Exchange, cb processor.Callback) bool {
		go func() {
			time.Sleep(d)
			cb.Done(false)
		}()
		return false
	})
}

// never keeps the exchange until release is closed.
func never(release <-chan struct{}) processor.AsyncProcessor {
	return processor.AsyncFunc(func(_ context.Context, _ *exchange.Exchange, cb processor.Callback) bool {
		go func() {
			<-release
			cb.Done(false)
		}()
		return false
	})
}

func started(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func waitForWaiters(t *testing.T, m *Manager, n int) []Waiter {
	t.Helper()
	var got []Waiter
	require.Eventually(t, func() bool {
		got = m.Browse()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestManager_RejectsBeforeStart(t *testing.T) {
	m := NewManager()
	ex := exchange.New()
	err := m.Process(context.Background(), afterDelay(0), ex)
	assert.True(t, exchange.IsRejected(err))
	assert.True(t, exchange.IsRejected(ex.Failure()))
}

func TestManager_ProcessCompletes(t *testing.T) {
	m := started(t)
	ex := exchange.New()

	require.NoError(t, m.Process(context.Background(), afterDelay(10*time.Millisecond), ex))
	assert.False(t, ex.IsFailed())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, 0, stats.InFlight)
}

func TestManager_SyncCompletionIsNotTracked(t *testing.T) {
	m := started(t)
	ex := exchange.New()
	inline := processor.ToAsync(processor.Func(func(context.Context, *exchange.Exchange) error { return nil }))

	require.NoError(t, m.Process(context.Background(), inline, ex))
	assert.Empty(t, m.Browse())
	assert.Equal(t, int64(1), m.Stats().Completed)
}

func TestManager_BrowseListsBlockedCallers(t *testing.T) {
	m := started(t)
	release := make(chan struct{})
	defer close(release)

	first := exchange.New(exchange.WithID("first"))
	second := exchange.New(exchange.WithID("second"))

	var wg sync.WaitGroup
	for _, ex := range []*exchange.Exchange{first, second} {
		wg.Add(1)
		go func(ex *exchange.Exchange) {
			defer wg.Done()
			_ = m.ProcessTimeout(context.Background(), never(release), ex, time.Hour)
		}(ex)
	}

	waiters := waitForWaiters(t, m, 2)
	assert.Less(t, waiters[0].Seq, waiters[1].Seq)
	for _, w := range waiters {
		assert.NotZero(t, w.Goroutine)
		assert.False(t, w.Started.IsZero())
		assert.WithinDuration(t, w.Started.Add(time.Hour), w.Deadline, time.Second)
	}

	assert.Equal(t, 2, m.InterruptAll())
	wg.Wait()
}

func TestManager_InterruptByExchangeID(t *testing.T) {
	m := started(t)
	release := make(chan struct{})
	defer close(release)

	ex := exchange.New(exchange.WithID("stuck"))
	errCh := make(chan error, 1)
	go func() { errCh <- m.Process(context.Background(), never(release), ex) }()

	waitForWaiters(t, m, 1)
	assert.Equal(t, 0, m.Interrupt("other"))
	assert.Equal(t, 1, m.Interrupt("stuck"))

	select {
	case err := <-errCh:
		assert.True(t, exchange.IsInterruptedWait(err))
	case <-time.After(time.Second):
		t.Fatal("interrupted caller was not released")
	}
	assert.True(t, exchange.IsInterruptedWait(ex.Failure()))
	assert.Equal(t, int64(1), m.Stats().Interrupted)
	assert.Equal(t, 0, m.Stats().InFlight)
}

func TestManager_InterruptWaiterBySequence(t *testing.T) {
	m := started(t)
	release := make(chan struct{})
	defer close(release)

	ex := exchange.New()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Process(context.Background(), never(release), ex) }()

	waiters := waitForWaiters(t, m, 1)
	assert.False(t, m.InterruptWaiter(waiters[0].Seq+100))
	assert.True(t, m.InterruptWaiter(waiters[0].Seq))
	assert.True(t, exchange.IsInterruptedWait(<-errCh))
}

func TestManager_ContextCancelInterrupts(t *testing.T) {
	m := started(t)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ex := exchange.New()
	err := m.Process(ctx, never(release), ex)
	assert.True(t, exchange.IsInterruptedWait(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), m.Stats().Interrupted)
}

func TestManager_ReapReleasesExpiredWaitsOnly(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	// an hour between ticks keeps the background reaper out of the way
	m := started(t, WithNow(clock), WithReapInterval(time.Hour))
	release := make(chan struct{})
	defer close(release)

	short := exchange.New(exchange.WithID("short"))
	long := exchange.New(exchange.WithID("long"))
	shortErr := make(chan error, 1)
	longErr := make(chan error, 1)
	go func() { shortErr <- m.ProcessTimeout(context.Background(), never(release), short, 50*time.Millisecond) }()
	go func() { longErr <- m.ProcessTimeout(context.Background(), never(release), long, time.Minute) }()
	waitForWaiters(t, m, 2)

	assert.Equal(t, 0, m.Reap(base.Add(49*time.Millisecond)))
	assert.Equal(t, 1, m.Reap(base.Add(50*time.Millisecond)))

	err := <-shortErr
	assert.True(t, exchange.IsTimeout(err))
	assert.True(t, exchange.IsTimeout(short.Failure()))

	waiters := waitForWaiters(t, m, 1)
	assert.Equal(t, "long", waiters[0].ExchangeID)
	assert.Equal(t, int64(1), m.Stats().TimedOut)

	assert.Equal(t, 1, m.Interrupt("long"))
	assert.True(t, exchange.IsInterruptedWait(<-longErr))
}

func TestManager_BackgroundReaperTimesOut(t *testing.T) {
	m := started(t, WithReapInterval(5*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	ex := exchange.New()
	start := time.Now()
	err := m.ProcessTimeout(context.Background(), never(release), ex, 20*time.Millisecond)
	assert.True(t, exchange.IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestManager_CompletionBeforeTimeoutWins(t *testing.T) {
	m := started(t, WithReapInterval(5*time.Millisecond))
	ex := exchange.New()
	require.NoError(t, m.ProcessTimeout(context.Background(), afterDelay(5*time.Millisecond), ex, time.Second))
	assert.Equal(t, int64(0), m.Stats().TimedOut)
}

func TestManager_ReapAfterCompletionIsIgnored(t *testing.T) {
	var logs bytes.Buffer
	m := started(t, WithLogger(exchange.NewFmtLogger(&logs)))

	// the stage completes, then a reap runs while the wait is still registered
	completeThenReap := processor.AsyncFunc(func(_ context.Context, ex *exchange.Exchange, cb processor.Callback) bool {
		cb.Done(true)
		assert.Zero(t, m.Reap(time.Now().Add(time.Hour)))
		assert.Zero(t, m.InterruptAll())
		return true
	})

	const runs = 50
	for i := 0; i < runs; i++ {
		ex := exchange.New(exchange.WithBody("done"))
		require.NoError(t, m.ProcessTimeout(context.Background(), completeThenReap, ex, time.Millisecond))
		assert.False(t, ex.IsFailed())
	}

	stats := m.Stats()
	assert.Equal(t, int64(0), stats.TimedOut)
	assert.Equal(t, int64(0), stats.Interrupted)
	assert.Equal(t, int64(runs), stats.Completed)
	assert.NotContains(t, logs.String(), "timed out")
}

func TestManager_ScheduledReaper(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	m := started(t, WithScheduler(s, scheduler.Every(time.Second)))
	release := make(chan struct{})
	defer close(release)

	ex := exchange.New()
	err := m.ProcessTimeout(context.Background(), never(release), ex, 10*time.Millisecond)
	assert.True(t, exchange.IsTimeout(err))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestManager_StopReleasesBlockedCallers(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Start(context.Background()))
	release := make(chan struct{})
	defer close(release)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Process(context.Background(), never(release), exchange.New()) }()
	waitForWaiters(t, m, 1)

	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, exchange.IsInterruptedWait(<-errCh))

	err := m.Process(context.Background(), afterDelay(0), exchange.New())
	assert.True(t, exchange.IsRejected(err))
}
