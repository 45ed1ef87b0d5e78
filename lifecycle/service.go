package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	exchange "github.com/goliatone/go-exchange"
)

// Hook runs the work behind one lifecycle action. A nil hook always succeeds.
type Hook func(ctx context.Context) error

// Hooks groups the per-action hooks of a service.
type Hooks struct {
	Build    Hook
	Init     Hook
	Start    Hook
	Stop     Hook
	Suspend  Hook
	Resume   Hook
	Shutdown Hook
}

// Transition describes one state change.
type Transition struct {
	Service string
	Action  Action
	From    State
	To      State
	Err     error
	At      time.Time
}

// Listener observes transitions. Listeners run synchronously, in
// registration order, while the transition lock is held, so they must not
// call back into the service.
type Listener func(ctx context.Context, t Transition)

// Service is a lifecycle state machine. Transitions are serialized; State
// can be read at any time without blocking.
//
// Start on a Failed service restarts it, re-running Init only when the
// failure happened before initialization completed. Start on a Suspended
// service resumes it. Stop on a service that never started is a no-op.
// Once Shutdown, every other action is rejected.
type Service struct {
	name        string
	mu          sync.Mutex
	state       atomic.Int32
	initialized bool
	hooks       Hooks
	listeners   []Listener
	logger      exchange.Logger
	failure     atomic.Pointer[error]
}

type Option func(*Service)

func WithHooks(h Hooks) Option {
	return func(s *Service) {
		s.hooks = h
	}
}

func WithInitHook(h Hook) Option {
	return func(s *Service) {
		s.hooks.Init = h
	}
}

func WithStartHook(h Hook) Option {
	return func(s *Service) {
		s.hooks.Start = h
	}
}

func WithStopHook(h Hook) Option {
	return func(s *Service) {
		s.hooks.Stop = h
	}
}

func WithSuspendHook(h Hook) Option {
	return func(s *Service) {
		s.hooks.Suspend = h
	}
}

func WithResumeHook(h Hook) Option {
	return func(s *Service) {
		s.hooks.Resume = h
	}
}

func WithListener(l Listener) Option {
	return func(s *Service) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

func WithLogger(logger exchange.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a service in state New.
func NewService(name string, opts ...Option) *Service {
	s := &Service{name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = exchange.WithLoggerFields(s.logger, map[string]any{"service": name})
	return s
}

func (s *Service) Name() string       { return s.name }
func (s *Service) State() State       { return State(s.state.Load()) }
func (s *Service) IsStarted() bool    { return s.State() == Started }
func (s *Service) IsSuspended() bool  { return s.State() == Suspended }
func (s *Service) IsRunAllowed() bool { return s.State().IsRunAllowed() }

// Failure returns the error that moved the service to Failed, if any.
func (s *Service) Failure() error {
	if p := s.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// AddListener registers l for future transitions.
func (s *Service) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) Build(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked(ctx)
}

func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case Shutdown:
		return s.reject(ActionStart)
	case Started:
		return nil
	case Suspended:
		return s.run(ctx, ActionResume, Resuming, Started, s.hooks.Resume)
	}
	if err := s.initLocked(ctx); err != nil {
		return err
	}
	return s.run(ctx, ActionStart, Starting, Started, s.hooks.Start)
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Service) Suspend(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case Suspended:
		return nil
	case Started:
		return s.run(ctx, ActionSuspend, Suspending, Suspended, s.hooks.Suspend)
	}
	return s.reject(ActionSuspend)
}

func (s *Service) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case Started:
		return nil
	case Suspended:
		return s.run(ctx, ActionResume, Resuming, Started, s.hooks.Resume)
	}
	return s.reject(ActionResume)
}

// Shutdown stops the service if needed and releases it for good.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Shutdown {
		return nil
	}
	stopErr := s.stopLocked(ctx)
	if err := s.run(ctx, ActionShutdown, ShuttingDown, Shutdown, s.hooks.Shutdown); err != nil {
		return errors.Join(stopErr, err)
	}
	return stopErr
}

func (s *Service) buildLocked(ctx context.Context) error {
	switch s.State() {
	case New:
		return s.run(ctx, ActionBuild, New, Built, s.hooks.Build)
	case Shutdown:
		return s.reject(ActionBuild)
	case Failed:
		if !s.initialized {
			return s.run(ctx, ActionBuild, Failed, Built, s.hooks.Build)
		}
	}
	return nil
}

func (s *Service) initLocked(ctx context.Context) error {
	if s.State() == Shutdown {
		return s.reject(ActionInit)
	}
	if s.initialized {
		return nil
	}
	if err := s.buildLocked(ctx); err != nil {
		return err
	}
	if err := s.run(ctx, ActionInit, Initializing, Initialized, s.hooks.Init); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

func (s *Service) stopLocked(ctx context.Context) error {
	switch s.State() {
	case Started, Suspended, Failed:
		if s.State() == Failed && !s.initialized {
			return nil
		}
		return s.run(ctx, ActionStop, Stopping, Stopped, s.hooks.Stop)
	case Shutdown:
		return s.reject(ActionStop)
	}
	return nil
}

// run moves through the transient state, runs the hook and settles in done
// or Failed.
func (s *Service) run(ctx context.Context, action Action, transient, done State, hook Hook) error {
	from := s.State()
	if transient != from {
		s.set(ctx, action, from, transient, nil)
	}

	err := s.invoke(ctx, action, hook)
	if err != nil {
		lerr := exchange.NewLifecycleError(s.name, string(action), err)
		var failure error = lerr
		s.failure.Store(&failure)
		s.set(ctx, action, transient, Failed, lerr)
		s.logger.WithContext(ctx).Error("%s failed: %v", action, err)
		return lerr
	}
	if done != Failed {
		s.failure.Store(nil)
	}
	s.set(ctx, action, transient, done, nil)
	s.logger.WithContext(ctx).Debug("%s: %s -> %s", action, from, done)
	return nil
}

func (s *Service) invoke(ctx context.Context, action Action, hook Hook) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = exchange.PanicError(s.name+"."+string(action), r)
		}
	}()
	return hook(ctx)
}

func (s *Service) set(ctx context.Context, action Action, from, to State, err error) {
	s.state.Store(int32(to))
	if len(s.listeners) == 0 {
		return
	}
	t := Transition{Service: s.name, Action: action, From: from, To: to, Err: err, At: time.Now()}
	for _, l := range s.listeners {
		l(ctx, t)
	}
}

func (s *Service) reject(action Action) error {
	return exchange.NewRejectedError(s.name, string(action), s.State().String())
}
