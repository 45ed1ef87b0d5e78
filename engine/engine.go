// Package engine wires the exchange runtime together from a configuration:
// id generation, the exchange pool, the producer cache, the await manager,
// the scheduler, error handling, logging and metrics.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/await"
	"github.com/goliatone/go-exchange/cache"
	"github.com/goliatone/go-exchange/config"
	"github.com/goliatone/go-exchange/consumer"
	"github.com/goliatone/go-exchange/errorhandler"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/processor"
	"github.com/goliatone/go-exchange/producer"
	"github.com/goliatone/go-exchange/router"
	"github.com/goliatone/go-exchange/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Stats is a snapshot of the engine counters.
type Stats struct {
	Producers cache.Stats
	Await     await.Stats
	Pool      exchange.PoolStats
	Consumers int
	Routes    int
}

// Engine is the runtime container. It owns the services it creates and
// starts and stops them with its own lifecycle.
type Engine struct {
	*lifecycle.Service

	cfg       config.Config
	logger    exchange.Logger
	ids       exchange.IDGenerator
	pool      *exchange.Pool
	producers *producer.Cache
	await     *await.Manager
	scheduler *scheduler.Scheduler
	errors    exchange.ExceptionHandler
	sentry    *errorhandler.Sentry
	tracer    trace.Tracer
	routes    *router.Table[producer.Endpoint]

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	metrics    *processor.PrometheusRecorder

	mu        sync.Mutex
	consumers []lifecycle.Startable
}

type Option func(*Engine)

func WithLogger(logger exchange.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithExceptionHandler replaces the handler built from the configuration.
func WithExceptionHandler(h exchange.ExceptionHandler) Option {
	return func(e *Engine) {
		e.errors = h
	}
}

// WithIDGenerator replaces the generator named in the configuration. The
// empty generator is still refused unless empty ids are allowed.
func WithIDGenerator(gen exchange.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithTracer adds a span per stage built with Stage.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) {
		if reg != nil {
			e.registerer = reg
			e.gatherer = reg
		}
	}
}

// New validates cfg and builds every component. Nothing is started.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, routes: router.NewTable[producer.Endpoint]()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	if e.logger == nil {
		logger, err := NewLogger(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
		e.logger = logger
	}
	e.logger = exchange.WithLoggerFields(e.logger, map[string]any{"component": "engine"})

	if err := e.buildIDs(); err != nil {
		return nil, err
	}
	if err := e.buildErrors(); err != nil {
		return nil, err
	}
	if err := e.buildScheduler(); err != nil {
		return nil, err
	}

	if cfg.Exchange.Pooled {
		e.pool = exchange.NewPool(exchange.WithPoolIDGenerator(e.ids))
	}

	cacheOpts := []producer.CacheOption{
		producer.WithCacheLogger(e.logger),
		producer.WithExceptionHandler(e.errors),
	}
	if cfg.Producers.Lazy {
		cacheOpts = append(cacheOpts, producer.WithLazyProducers())
	}
	producers, err := producer.NewCache(cfg.Producers.CacheSize, cacheOpts...)
	if err != nil {
		return nil, err
	}
	e.producers = producers

	awaitOpts := []await.Option{await.WithLogger(e.logger)}
	if cfg.Await.Schedule != "" {
		awaitOpts = append(awaitOpts, await.WithScheduler(e.scheduler, scheduler.JobConfig{Expression: cfg.Await.Schedule}))
	} else {
		awaitOpts = append(awaitOpts, await.WithReapInterval(cfg.Await.ReapInterval))
	}
	e.await = await.NewManager(awaitOpts...)

	if cfg.Metrics.Enabled {
		if err := e.buildMetrics(); err != nil {
			return nil, err
		}
	}

	e.Service = lifecycle.NewService("engine",
		lifecycle.WithLogger(e.logger),
		lifecycle.WithStartHook(e.start),
		lifecycle.WithStopHook(e.stop),
	)
	return e, nil
}

func (e *Engine) buildIDs() error {
	if e.ids == nil {
		switch e.cfg.Exchange.IDGenerator {
		case config.IDGeneratorULID:
			e.ids = exchange.NewULIDGenerator()
		case config.IDGeneratorEmpty:
			e.ids = exchange.EmptyIDGenerator{}
		default:
			e.ids = exchange.UUIDGenerator{}
		}
	}
	if exchange.IsEmptyIDGenerator(e.ids) && !e.cfg.Exchange.AllowEmptyIDs {
		return exchange.CloneError(exchange.ErrInvalidConfig,
			"empty exchange ids are not allowed", nil,
			map[string]any{"setting": "exchange.allow_empty_ids"})
	}
	return nil
}

func (e *Engine) buildErrors() error {
	if e.errors != nil {
		return nil
	}
	logging := errorhandler.NewLogging(e.logger)
	if e.cfg.Sentry.DSN == "" {
		e.errors = logging
		return nil
	}
	s, err := errorhandler.NewSentryClient(sentry.ClientOptions{
		Dsn:         e.cfg.Sentry.DSN,
		Environment: e.cfg.Sentry.Environment,
		Release:     e.cfg.Sentry.Release,
	})
	if err != nil {
		return err
	}
	e.sentry = s
	e.errors = errorhandler.Multi{logging, s}
	return nil
}

func (e *Engine) buildScheduler() error {
	opts, err := schedulerOptions(e.cfg.Scheduler)
	if err != nil {
		return err
	}
	opts = append(opts,
		scheduler.WithLogger(e.logger),
		scheduler.WithErrorHandler(e.errors.Handle),
	)
	e.scheduler = scheduler.New(opts...)
	return nil
}

func (e *Engine) buildMetrics() error {
	if e.registerer == nil {
		reg := prometheus.NewRegistry()
		e.registerer, e.gatherer = reg, reg
	}
	ns := e.cfg.Metrics.Namespace
	e.metrics = processor.NewPrometheusRecorder(ns)
	for _, c := range []prometheus.Collector{e.metrics, cache.NewCollector(ns, e.producers)} {
		if err := e.registerer.Register(c); err != nil {
			return exchange.CloneError(exchange.ErrInvalidConfig, "register metrics", err,
				map[string]any{"namespace": ns})
		}
	}
	return nil
}

func (e *Engine) Config() config.Config                       { return e.cfg }
func (e *Engine) Logger() exchange.Logger                     { return e.logger }
func (e *Engine) IDs() exchange.IDGenerator                   { return e.ids }
func (e *Engine) Producers() *producer.Cache                  { return e.producers }
func (e *Engine) Await() *await.Manager                       { return e.await }
func (e *Engine) Scheduler() *scheduler.Scheduler             { return e.scheduler }
func (e *Engine) ExceptionHandler() exchange.ExceptionHandler { return e.errors }

// Gatherer exposes the metrics registry, nil when metrics are disabled.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.gatherer }

// CreateExchange builds an exchange with the engine's id generator, from
// the pool when pooling is enabled.
func (e *Engine) CreateExchange(opts ...exchange.Option) *exchange.Exchange {
	if e.pool != nil {
		return e.pool.Get(opts...)
	}
	return exchange.New(append([]exchange.Option{exchange.WithIDGenerator(e.ids)}, opts...)...)
}

// ReleaseExchange returns ex to the pool. It does nothing without a pool.
// ex must not be used afterwards.
func (e *Engine) ReleaseExchange(ex *exchange.Exchange) {
	if e.pool != nil && ex != nil {
		e.pool.Put(ex)
	}
}

// Endpoint builds an endpoint whose exchanges use the engine's ids.
func (e *Engine) Endpoint(uri string, factory producer.Factory, opts ...producer.EndpointOption) *producer.SimpleEndpoint {
	return producer.NewEndpoint(uri, factory,
		append([]producer.EndpointOption{producer.WithEndpointIDGenerator(e.ids)}, opts...)...)
}

// Stage decorates p with panic recovery, and metrics and tracing when they
// are configured.
func (e *Engine) Stage(name string, p processor.AsyncProcessor) processor.AsyncProcessor {
	p = processor.WithRecover(p, name, e.logger)
	if e.metrics != nil {
		p = processor.WithMetrics(p, name, e.metrics)
	}
	if e.tracer != nil {
		p = processor.WithTracing(p, e.tracer, name)
	}
	return p
}

// Send hands ex to the producer for endpoint and blocks until it is done.
// The wait is bounded by the configured default timeout.
func (e *Engine) Send(ctx context.Context, endpoint producer.Endpoint, ex *exchange.Exchange) error {
	if !e.IsRunAllowed() {
		err := exchange.NewRejectedError(e.Name(), "send", e.State().String())
		ex.SetFailure(err)
		return err
	}
	p, err := e.producers.Acquire(ctx, endpoint)
	if err != nil {
		ex.SetFailure(err)
		return err
	}
	defer e.release(ctx, p)
	return e.await.ProcessTimeout(ctx, p, ex, e.cfg.Await.DefaultTimeout)
}

// SendAsync hands ex to the producer for endpoint and returns at once.
func (e *Engine) SendAsync(ctx context.Context, endpoint producer.Endpoint, ex *exchange.Exchange) *exchange.Future[*exchange.Exchange] {
	f := exchange.NewFuture[*exchange.Exchange]()
	if !e.IsRunAllowed() {
		ex.SetFailure(exchange.NewRejectedError(e.Name(), "send", e.State().String()))
		f.Complete(ex)
		return f
	}
	p, err := e.producers.Acquire(ctx, endpoint)
	if err != nil {
		ex.SetFailure(err)
		f.Complete(ex)
		return f
	}
	p.Process(ctx, ex, processor.CallbackFunc(func(bool) {
		e.release(context.Background(), p)
		f.Complete(ex)
	}))
	return f
}

// Route registers ep under a URI pattern for SendTo. The endpoint's own URI
// is a valid pattern.
func (e *Engine) Route(pattern string, ep producer.Endpoint) *router.Route[producer.Endpoint] {
	return e.routes.Add(pattern, ep)
}

// Resolve returns the endpoint registered for uri.
func (e *Engine) Resolve(uri string) (producer.Endpoint, error) {
	ep, ok := e.routes.Lookup(uri)
	if !ok {
		return nil, exchange.NewNoRouteError(uri)
	}
	return ep, nil
}

// SendTo resolves uri and sends ex to the endpoint found.
func (e *Engine) SendTo(ctx context.Context, uri string, ex *exchange.Exchange) error {
	ep, err := e.Resolve(uri)
	if err != nil {
		ex.SetFailure(err)
		return err
	}
	return e.Send(ctx, ep, ex)
}

func (e *Engine) release(ctx context.Context, p producer.Producer) {
	if err := e.producers.Release(ctx, p); err != nil {
		e.errors.Handle(err)
	}
}

// AddConsumer registers a consumer started and stopped with the engine. A
// consumer added to a running engine is started at once.
func (e *Engine) AddConsumer(ctx context.Context, c lifecycle.Startable) error {
	e.mu.Lock()
	e.consumers = append(e.consumers, c)
	e.mu.Unlock()
	if e.IsStarted() {
		return c.Start(ctx)
	}
	return nil
}

// PollingConsumer creates and registers a polling consumer.
func (e *Engine) PollingConsumer(ctx context.Context, uri string, opts ...consumer.PollingOption) (*consumer.PollingConsumer, error) {
	c := consumer.NewPollingConsumer(uri, append([]consumer.PollingOption{consumer.WithPollingLogger(e.logger)}, opts...)...)
	return c, e.AddConsumer(ctx, c)
}

// ScheduledConsumer creates and registers a consumer polling source on job.
func (e *Engine) ScheduledConsumer(ctx context.Context, uri string, source consumer.Source, target processor.AsyncProcessor, job scheduler.JobConfig) (*consumer.ScheduledConsumer, error) {
	c := consumer.NewScheduledConsumer(uri, source, target, e.scheduler,
		consumer.WithJob(job),
		consumer.WithExceptionHandler(e.errors),
		consumer.WithScheduledLogger(e.logger),
	)
	return c, e.AddConsumer(ctx, c)
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Producers: e.producers.Stats(),
		Await:     e.await.Stats(),
	}
	if e.pool != nil {
		s.Pool = e.pool.Stats()
	}
	e.mu.Lock()
	s.Consumers = len(e.consumers)
	e.mu.Unlock()
	s.Routes = e.routes.Len()
	return s
}

func (e *Engine) services() []lifecycle.Startable {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []lifecycle.Startable{e.scheduler, e.await, e.producers}
	return append(out, e.consumers...)
}

func (e *Engine) start(ctx context.Context) error {
	return lifecycle.StartAll(ctx, e.services()...)
}

func (e *Engine) stop(ctx context.Context) error {
	err := lifecycle.StopAll(ctx, e.services()...)
	if e.sentry != nil {
		e.sentry.Flush()
	}
	return err
}

func timeLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, exchange.CloneError(exchange.ErrInvalidConfig, "invalid scheduler location", err,
			map[string]any{"location": name})
	}
	return loc, nil
}
