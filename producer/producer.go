// Package producer holds the producer side of an endpoint: the Producer
// contract, a lazily started wrapper and a per-endpoint producer cache.
package producer

import (
	"context"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/processor"
	apperrors "github.com/goliatone/go-errors"
)

// Producer sends exchanges to an endpoint.
type Producer interface {
	processor.AsyncProcessor
	lifecycle.Startable
	// IsSingleton reports whether one instance may serve every caller.
	IsSingleton() bool
}

// Endpoint is the narrow view of an endpoint the engine needs. URI parsing
// and component lookup happen elsewhere.
type Endpoint interface {
	URI() string
	CreateExchange(opts ...exchange.Option) *exchange.Exchange
	IsSingleton() bool
	CreateProducer(ctx context.Context) (Producer, error)
}

// Factory creates a producer for endpoint.
type Factory func(ctx context.Context, endpoint Endpoint) (Producer, error)

// SimpleEndpoint is an Endpoint assembled from a URI and a producer factory.
type SimpleEndpoint struct {
	uri       string
	singleton bool
	pattern   exchange.Pattern
	ids       exchange.IDGenerator
	factory   Factory
}

type EndpointOption func(*SimpleEndpoint)

// Prototype makes the endpoint hand out a fresh producer per use.
func Prototype() EndpointOption {
	return func(e *SimpleEndpoint) {
		e.singleton = false
	}
}

func WithExchangePattern(p exchange.Pattern) EndpointOption {
	return func(e *SimpleEndpoint) {
		e.pattern = p
	}
}

func WithEndpointIDGenerator(gen exchange.IDGenerator) EndpointOption {
	return func(e *SimpleEndpoint) {
		if gen != nil {
			e.ids = gen
		}
	}
}

func NewEndpoint(uri string, factory Factory, opts ...EndpointOption) *SimpleEndpoint {
	e := &SimpleEndpoint{
		uri:       uri,
		singleton: true,
		ids:       exchange.DefaultIDGenerator(),
		factory:   factory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *SimpleEndpoint) URI() string       { return e.uri }
func (e *SimpleEndpoint) IsSingleton() bool { return e.singleton }

// CreateExchange builds an exchange with the endpoint's pattern and id
// generator. opts are applied after those defaults.
func (e *SimpleEndpoint) CreateExchange(opts ...exchange.Option) *exchange.Exchange {
	base := []exchange.Option{
		exchange.WithIDGenerator(e.ids),
		exchange.WithPattern(e.pattern),
	}
	ex := exchange.New(append(base, opts...)...)
	ex.SetProperty(exchange.PropertyToEndpoint, e.uri)
	return ex
}

func (e *SimpleEndpoint) CreateProducer(ctx context.Context) (Producer, error) {
	if e.factory == nil {
		return nil, apperrors.New("endpoint has no producer factory", apperrors.CategoryBadInput).
			WithTextCode("ENDPOINT_NO_PRODUCER").
			WithMetadata(map[string]any{"endpoint": e.uri})
	}
	return e.factory(ctx, e)
}

// Base is a Producer that forwards to a processor while its lifecycle
// allows it. Exchanges sent to a stopped producer fail with a rejected error.
type Base struct {
	*lifecycle.Service
	endpoint Endpoint
	target   processor.AsyncProcessor
}

// NewBase builds a producer for endpoint that hands exchanges to target.
func NewBase(endpoint Endpoint, target processor.AsyncProcessor, opts ...lifecycle.Option) *Base {
	return &Base{
		Service:  lifecycle.NewService("producer:"+endpoint.URI(), opts...),
		endpoint: endpoint,
		target:   target,
	}
}

func (b *Base) Endpoint() Endpoint { return b.endpoint }

func (b *Base) IsSingleton() bool { return b.endpoint.IsSingleton() }

func (b *Base) Process(ctx context.Context, ex *exchange.Exchange, cb processor.Callback) bool {
	if !b.IsRunAllowed() {
		ex.SetFailure(exchange.NewRejectedError(b.Name(), "process", b.State().String()))
		cb.Done(true)
		return true
	}
	return b.target.Process(ctx, ex, cb)
}
