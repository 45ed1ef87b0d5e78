package producer

import (
	"context"
	"errors"
	"sync"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/cache"
)

// Cache hands out producers per endpoint. Singleton producers are created and
// started once and kept in a bounded LRU; a producer pushed out of the LRU
// is stopped. Prototype producers are created per Acquire and stopped on
// Release.
type Cache struct {
	mu      sync.Mutex
	entries *cache.LRU[string, Producer]
	lazy    bool
	logger  exchange.Logger
	errors  exchange.ExceptionHandler
}

type CacheOption func(*Cache)

// WithLazyProducers makes the cache hand out Lazy wrappers, so creating and
// starting the real producer is deferred to the first exchange.
func WithLazyProducers() CacheOption {
	return func(c *Cache) {
		c.lazy = true
	}
}

func WithCacheLogger(logger exchange.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithExceptionHandler receives errors from stopping evicted producers.
func WithExceptionHandler(h exchange.ExceptionHandler) CacheOption {
	return func(c *Cache) {
		c.errors = h
	}
}

func NewCache(capacity int, opts ...CacheOption) (*Cache, error) {
	c := &Cache{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = exchange.WithLoggerFields(c.logger, map[string]any{"component": "producer-cache"})

	entries, err := cache.New[string, Producer](capacity,
		cache.WithName[string, Producer]("producers"),
		cache.WithEvictionListener[string, Producer](c.evicted),
	)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Acquire returns a started producer for endpoint.
func (c *Cache) Acquire(ctx context.Context, endpoint Endpoint) (Producer, error) {
	uri := endpoint.URI()
	if p, ok := c.entries.Get(uri); ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries.Peek(uri); ok {
		return p, nil
	}

	p, err := c.create(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if p.IsSingleton() {
		c.entries.Put(uri, p)
	}
	return p, nil
}

// Release gives a producer back. Prototype producers are stopped.
func (c *Cache) Release(ctx context.Context, p Producer) error {
	if p == nil || p.IsSingleton() {
		return nil
	}
	return p.Stop(ctx)
}

func (c *Cache) create(ctx context.Context, endpoint Endpoint) (Producer, error) {
	if c.lazy {
		return NewLazy(endpoint, WithLazyLogger(c.logger)), nil
	}
	p, err := endpoint.CreateProducer(ctx)
	if err != nil {
		return nil, asLifecycleError(endpoint.URI(), "create", err)
	}
	if err := p.Start(ctx); err != nil {
		return nil, asLifecycleError(endpoint.URI(), "start", err)
	}
	return p, nil
}

func (c *Cache) evicted(uri string, p Producer) {
	c.logger.Debug("stopping evicted producer for %s", uri)
	if err := p.Stop(context.Background()); err != nil {
		c.report(err)
	}
}

func (c *Cache) report(err error) {
	if c.errors != nil {
		c.errors.Handle(err)
		return
	}
	c.logger.Warn("producer cache: %v", err)
}

// Stop stops every cached producer and empties the cache. Statistics are kept.
func (c *Cache) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, uri := range c.entries.Keys() {
		p, ok := c.entries.Peek(uri)
		if !ok {
			continue
		}
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.entries.Clear()
	return errors.Join(errs...)
}

// Start is a no-op; producers are started on Acquire.
func (c *Cache) Start(context.Context) error { return nil }

func (c *Cache) Len() int           { return c.entries.Len() }
func (c *Cache) Capacity() int      { return c.entries.Capacity() }
func (c *Cache) Name() string       { return c.entries.Name() }
func (c *Cache) Stats() cache.Stats { return c.entries.Stats() }

// ResetStatistics zeroes the hit, miss and eviction counters.
func (c *Cache) ResetStatistics() { c.entries.ResetStatistics() }
