package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/ordering"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// countingCallback records every invocation.
type countingCallback struct {
	mu    sync.Mutex
	calls []bool
	done  chan struct{}
	once  sync.Once
}

func newCountingCallback() *countingCallback {
	return &countingCallback{done: make(chan struct{})}
}

func (c *countingCallback) Done(doneSync bool) {
	c.mu.Lock()
	c.calls = append(c.calls, doneSync)
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *countingCallback) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func (c *countingCallback) snapshot() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.calls...)
}

func appendBody(suffix string) AsyncProcessor {
	return ToAsync(Func(func(_ context.Context, ex *exchange.Exchange) error {
		body, _ := ex.In().Body().(string)
		ex.In().SetBody(body + suffix)
		return nil
	}))
}

func asyncAppend(delay time.Duration, suffix string) AsyncProcessor {
	return AsyncFunc(func(_ context.Context, ex *exchange.Exchange, cb Callback) bool {
		go func() {
			time.Sleep(delay)
			body, _ := ex.In().Body().(string)
			ex.In().SetBody(body + suffix)
			cb.Done(false)
		}()
		return false
	})
}

func failing(err error) AsyncProcessor {
	return ToAsync(Func(func(context.Context, *exchange.Exchange) error { return err }))
}

func TestToAsync_CompletesSynchronouslyOnce(t *testing.T) {
	cb := newCountingCallback()
	ex := exchange.New(exchange.WithBody("a"))

	done := appendBody("b").Process(context.Background(), ex, cb)
	assert.True(t, done)
	assert.Equal(t, []bool{true}, cb.snapshot())
	assert.Equal(t, "ab", ex.In().Body())
}

func TestToAsync_RecordsError(t *testing.T) {
	ex := exchange.New()
	err := Process(context.Background(), failing(assert.AnError), ex)
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, ex.Failure(), assert.AnError)
}

func TestAsyncStage_CallbackOnceFromOtherGoroutine(t *testing.T) {
	cb := newCountingCallback()
	ex := exchange.New(exchange.WithBody(""))

	done := asyncAppend(5*time.Millisecond, "x").Process(context.Background(), ex, cb)
	assert.False(t, done)
	cb.wait(t)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []bool{false}, cb.snapshot())
}

func TestProcess_BlocksUntilAsyncCompletion(t *testing.T) {
	ex := exchange.New(exchange.WithBody(""))
	start := time.Now()
	require.NoError(t, Process(context.Background(), asyncAppend(10*time.Millisecond, "x"), ex))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, "x", ex.In().Body())
}

func TestProcess_ContextCancelInterrupts(t *testing.T) {
	never := AsyncFunc(func(context.Context, *exchange.Exchange, Callback) bool { return false })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	ex := exchange.New()
	err := Process(ctx, never, ex)
	require.Error(t, err)
	assert.True(t, exchange.IsInterruptedWait(err))
	assert.True(t, exchange.IsInterruptedWait(ex.Failure()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessAsync_FutureCompletesWithExchange(t *testing.T) {
	ex := exchange.New(exchange.WithBody(""))
	f := ProcessAsync(context.Background(), NewPipeline(failing(assert.AnError)), ex)

	got, err := f.Wait(context.Background())
	require.NoError(t, err, "the future itself completes normally")
	assert.Same(t, ex, got)
	assert.ErrorIs(t, got.Failure(), assert.AnError)
}

func TestFutureCallback_CustomValue(t *testing.T) {
	f := exchange.NewFuture[string]()
	cb := FutureCallback(f, "finished")
	asyncAppend(time.Millisecond, "").Process(context.Background(), exchange.New(exchange.WithBody("")), cb)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finished", v)
}

func TestPipeline_SyncThenAsync(t *testing.T) {
	ex := exchange.New(exchange.WithPattern(exchange.InOnly), exchange.WithBody("in"))
	p := NewPipeline(appendBody("-sync"), asyncAppend(10*time.Millisecond, "-async"))

	start := time.Now()
	err := Process(context.Background(), p, ex)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, "in-sync-async", ex.In().Body())
	assert.False(t, ex.IsFailed())
}

func TestPipeline_ExactlyOnceAcrossMixedStages(t *testing.T) {
	for name, stages := range map[string][]AsyncProcessor{
		"all sync":    {appendBody("a"), appendBody("b")},
		"async first": {asyncAppend(time.Millisecond, "a"), appendBody("b")},
		"async last":  {appendBody("a"), asyncAppend(time.Millisecond, "b")},
		"all async":   {asyncAppend(time.Millisecond, "a"), asyncAppend(time.Millisecond, "b")},
		"empty":       {},
	} {
		t.Run(name, func(t *testing.T) {
			cb := newCountingCallback()
			ex := exchange.New(exchange.WithBody(""))
			done := NewPipeline(stages...).Process(context.Background(), ex, cb)
			cb.wait(t)
			time.Sleep(5 * time.Millisecond)

			calls := cb.snapshot()
			require.Len(t, calls, 1)
			assert.Equal(t, done, calls[0])
			if len(stages) > 0 {
				assert.Equal(t, "ab", ex.In().Body())
			}
		})
	}
}

func TestPipeline_StopsOnFailure(t *testing.T) {
	var ran atomic.Bool
	last := ToAsync(Func(func(context.Context, *exchange.Exchange) error {
		ran.Store(true)
		return nil
	}))
	ex := exchange.New()
	err := Process(context.Background(), NewPipeline(failing(assert.AnError), last), ex)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, ran.Load())
}

func TestPipeline_CancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := ToAsync(Func(func(context.Context, *exchange.Exchange) error {
		cancel()
		return nil
	}))
	ex := exchange.New(exchange.WithBody(""))
	NewPipeline(cancelling, appendBody("never")).Process(ctx, ex, CallbackFunc(func(bool) {}))

	assert.Equal(t, "", ex.In().Body())
	assert.Equal(t, ErrCodePipelineCancelled, exchange.ErrorCode(ex.Failure()))
	assert.ErrorIs(t, ex.Failure(), context.Canceled)
}

func TestNewOrderedPipeline(t *testing.T) {
	ex := exchange.New(exchange.WithBody(""))
	p := NewOrderedPipeline(ordering.Ascending,
		Ranked(appendBody("c"), 5),
		Ranked(appendBody("d"), 5),
		Ranked(appendBody("a"), 1),
		Ranked(appendBody("b"), 3),
	)
	require.NoError(t, Process(context.Background(), p, ex))
	assert.Equal(t, "abcd", ex.In().Body())

	ex = exchange.New(exchange.WithBody(""))
	p = NewOrderedPipeline(ordering.Descending,
		Ranked(appendBody("c"), 5),
		Ranked(appendBody("d"), 5),
		appendBody("z"),
		Ranked(appendBody("b"), 3),
	)
	require.NoError(t, Process(context.Background(), p, ex))
	assert.Equal(t, "cdbz", ex.In().Body())
}

func TestMulticast_CopiesShareClockAndCorrelate(t *testing.T) {
	ex := exchange.New(exchange.WithBody("in"))
	var seen []*exchange.Exchange
	var mu sync.Mutex
	capture := ToAsync(Func(func(_ context.Context, branch *exchange.Exchange) error {
		mu.Lock()
		seen = append(seen, branch)
		mu.Unlock()
		return nil
	}))

	m := NewMulticast([]AsyncProcessor{
		NewPipeline(appendBody("-1"), capture),
		NewPipeline(asyncAppend(time.Millisecond, "-2"), capture),
	})
	require.NoError(t, Process(context.Background(), m, ex))

	require.Len(t, seen, 2)
	for i, branch := range seen {
		assert.NotEqual(t, ex.ID(), branch.ID())
		assert.Same(t, ex.Clock(), branch.Clock())
		corr, _ := branch.Property(exchange.PropertyCorrelationID)
		assert.Equal(t, ex.ID(), corr)
		idx, _ := branch.Property(exchange.PropertyMulticastIndex)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, "in-2", ex.In().Body(), "last branch result wins")
}

func TestMulticast_FirstFailureStops(t *testing.T) {
	var ran atomic.Bool
	ex := exchange.New(exchange.WithBody("in"))
	m := NewMulticast([]AsyncProcessor{
		failing(assert.AnError),
		ToAsync(Func(func(context.Context, *exchange.Exchange) error { ran.Store(true); return nil })),
	})
	err := Process(context.Background(), m, ex)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, ran.Load())
}

func TestMulticast_CustomAggregator(t *testing.T) {
	ex := exchange.New(exchange.WithPattern(exchange.InOut), exchange.WithBody(""))
	m := NewMulticast(
		[]AsyncProcessor{appendBody("a"), appendBody("b")},
		WithAggregator(func(original, branch *exchange.Exchange) {
			parts, _ := original.Get("parts")
			list, _ := parts.([]string)
			original.Set("parts", append(list, branch.In().Body().(string)))
		}),
	)
	require.NoError(t, Process(context.Background(), m, ex))
	parts, _ := ex.Get("parts")
	assert.Equal(t, []string{"a", "b"}, parts)
}

func TestWithHistory_FillsElapsedOnCompletion(t *testing.T) {
	ex := exchange.New(exchange.WithBody(""))
	p := NewPipeline(
		WithHistory(appendBody("a"), exchange.Node{Workflow: "route", ID: "sync"}),
		WithHistory(asyncAppend(5*time.Millisecond, "b"), exchange.Node{Workflow: "route", ID: "async"}),
	)
	require.NoError(t, Process(context.Background(), p, ex))

	history := ex.History()
	require.Len(t, history, 2)
	assert.Equal(t, "sync", history[0].NodeID)
	assert.Equal(t, "async", history[1].NodeID)
	assert.True(t, history[0].Done)
	assert.True(t, history[1].Done)
	assert.GreaterOrEqual(t, history[1].Elapsed, 5*time.Millisecond)
}

func TestWithTracing_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("processor-test")

	ex := exchange.New(exchange.WithBody(""))
	p := NewPipeline(
		WithTracing(appendBody("a"), tracer, "ok-stage"),
		WithTracing(failing(assert.AnError), tracer, "bad-stage"),
	)
	_ = Process(context.Background(), p, ex)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok-stage", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "bad-stage", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.NotEmpty(t, spans[1].Events(), "error recorded as event")
}

func TestWithRecover_PanicBecomesFailure(t *testing.T) {
	boom := AsyncFunc(func(context.Context, *exchange.Exchange, Callback) bool {
		panic("boom")
	})
	var logged strings.Builder
	cb := newCountingCallback()
	ex := exchange.New()

	done := WithRecover(boom, "boom-stage", exchange.NewFmtLogger(&logged)).Process(context.Background(), ex, cb)
	assert.True(t, done)
	assert.Equal(t, []bool{true}, cb.snapshot())
	assert.True(t, exchange.IsPanic(ex.Failure()))
	assert.Contains(t, logged.String(), "boom-stage")
}

func TestWithRecover_LateAsyncCompletionIsDropped(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	startsThenPanics := AsyncFunc(func(_ context.Context, _ *exchange.Exchange, cb Callback) bool {
		go func() {
			defer close(finished)
			<-release
			cb.Done(false)
		}()
		panic("after going async")
	})
	cb := newCountingCallback()
	ex := exchange.New()

	done := WithRecover(startsThenPanics, "half-async", exchange.NewFmtLogger(&strings.Builder{})).Process(context.Background(), ex, cb)
	assert.True(t, done)
	assert.True(t, exchange.IsPanic(ex.Failure()))

	close(release)
	<-finished
	assert.Equal(t, []bool{true}, cb.snapshot())
}

func TestWithRecover_PassThrough(t *testing.T) {
	ex := exchange.New(exchange.WithBody(""))
	require.NoError(t, Process(context.Background(), WithRecover(asyncAppend(time.Millisecond, "x"), "ok", nil), ex))
	assert.Equal(t, "x", ex.In().Body())
}

func TestCircuitBreaker_OpensAndProbes(t *testing.T) {
	now := time.Unix(0, 0)
	var fail atomic.Bool
	fail.Store(true)
	stage := ToAsync(Func(func(context.Context, *exchange.Exchange) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}))
	cb := NewCircuitBreaker(stage, 2, time.Second, WithBreakerClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.Error(t, Process(ctx, cb, exchange.New()))
	}
	assert.True(t, cb.IsOpen())

	err := Process(ctx, cb, exchange.New())
	assert.Equal(t, ErrCodeCircuitOpen, exchange.ErrorCode(err))

	now = now.Add(2 * time.Second)
	fail.Store(false)
	require.NoError(t, Process(ctx, cb, exchange.New()))
	assert.False(t, cb.IsOpen())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	release := make(chan struct{})
	var probes atomic.Int32
	probe := AsyncFunc(func(_ context.Context, _ *exchange.Exchange, cb Callback) bool {
		probes.Add(1)
		go func() {
			<-release
			cb.Done(false)
		}()
		return false
	})
	cb := NewCircuitBreaker(failing(errors.New("down")), 1, time.Second,
		WithHalfOpenProbe(probe), WithBreakerClock(nowFn))
	ctx := context.Background()

	require.Error(t, Process(ctx, cb, exchange.New()))
	require.True(t, cb.IsOpen())

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	inFlight := newCountingCallback()
	assert.False(t, cb.Process(ctx, exchange.New(), inFlight))

	for i := 0; i < 5; i++ {
		err := Process(ctx, cb, exchange.New())
		assert.Equal(t, ErrCodeCircuitOpen, exchange.ErrorCode(err))
	}
	assert.Equal(t, int32(1), probes.Load())

	close(release)
	inFlight.wait(t)
	assert.False(t, cb.IsOpen())
}

func TestWithMetrics_PrometheusRecorder(t *testing.T) {
	rec := NewPrometheusRecorder("exchange")
	p := NewPipeline(
		WithMetrics(appendBody("a"), "append", rec),
		WithMetrics(failing(assert.AnError), "fail", rec),
	)
	_ = Process(context.Background(), p, exchange.New(exchange.WithBody("")))

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.outcomes.WithLabelValues("append", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.outcomes.WithLabelValues("fail", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.outcomes.WithLabelValues("append", "failure")))
}
