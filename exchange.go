package exchange

import (
	"fmt"
	"slices"
	"time"

	"github.com/goliatone/go-exchange/clock"
)

// Pattern fixes whether an exchange expects a reply.
type Pattern int

const (
	InOnly Pattern = iota
	InOut
)

func (p Pattern) String() string {
	switch p {
	case InOnly:
		return "InOnly"
	case InOut:
		return "InOut"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

// IsOutCapable reports whether the out message is meaningful for p.
func (p Pattern) IsOutCapable() bool { return p == InOut }

// Exchange is the unit of work handed from stage to stage. It is owned by
// exactly one stage at a time and is not safe for concurrent mutation.
type Exchange struct {
	id      string
	idSet   bool
	gen     IDGenerator
	pattern Pattern
	in      *Message
	out     *Message
	failure error
	props   properties
	history []HistoryRecord
	clock   clock.Clock
}

type Option func(*Exchange)

// WithID assigns an explicit id instead of asking the generator.
func WithID(id string) Option {
	return func(ex *Exchange) {
		ex.id = id
		ex.idSet = true
	}
}

func WithIDGenerator(gen IDGenerator) Option {
	return func(ex *Exchange) {
		if gen != nil {
			ex.gen = gen
		}
	}
}

func WithPattern(p Pattern) Option {
	return func(ex *Exchange) {
		ex.pattern = p
	}
}

func WithBody(body any) Option {
	return func(ex *Exchange) {
		ex.in = NewMessage(body)
	}
}

func WithIn(m *Message) Option {
	return func(ex *Exchange) {
		ex.in = m
	}
}

func WithHeader(name string, value any) Option {
	return func(ex *Exchange) {
		if ex.in == nil {
			ex.in = NewMessage(nil)
		}
		ex.in.SetHeader(name, value)
	}
}

func WithProperty(name string, value any) Option {
	return func(ex *Exchange) {
		ex.props.putNamed(name, value)
	}
}

// WithClock replaces the default monotonic clock.
func WithClock(c clock.Clock) Option {
	return func(ex *Exchange) {
		if c != nil {
			ex.clock = c
		}
	}
}

// New creates an exchange. The id is assigned once here and never changes.
func New(opts ...Option) *Exchange {
	ex := &Exchange{gen: defaultIDGenerator}
	ex.init(opts)
	return ex
}

func (ex *Exchange) init(opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(ex)
		}
	}
	if !ex.idSet {
		ex.id = ex.gen.NextID()
	}
	ex.idSet = false
	if ex.in == nil {
		ex.in = NewMessage(nil)
	}
	if ex.in.id == "" {
		ex.in.id = ex.gen.NextID()
	}
	if ex.clock == nil {
		ex.clock = clock.NewMonotonic()
	}
}

func (ex *Exchange) ID() string             { return ex.id }
func (ex *Exchange) Pattern() Pattern       { return ex.pattern }
func (ex *Exchange) Clock() clock.Clock     { return ex.clock }
func (ex *Exchange) Created() time.Time     { return ex.clock.Created() }
func (ex *Exchange) Elapsed() time.Duration { return ex.clock.Elapsed() }

func (ex *Exchange) In() *Message { return ex.in }

// SetIn replaces the in message. A nil message becomes an empty one.
func (ex *Exchange) SetIn(m *Message) {
	if m == nil {
		m = NewMessage(nil)
	}
	ex.in = m
}

// Out returns the reply message, or nil when none was set.
func (ex *Exchange) Out() *Message { return ex.out }
func (ex *Exchange) HasOut() bool  { return ex.out != nil }
func (ex *Exchange) SetOut(m *Message) {
	ex.out = m
}

// Reply returns the message a stage should write its result into: the out
// message for InOut exchanges, created on first use, otherwise the in message.
func (ex *Exchange) Reply() *Message {
	if !ex.pattern.IsOutCapable() {
		return ex.in
	}
	if ex.out == nil {
		ex.out = NewMessageWithID(ex.gen.NextID(), nil)
	}
	return ex.out
}

// Result is the out message of an InOut exchange when present, else the in message.
func (ex *Exchange) Result() *Message {
	if ex.pattern.IsOutCapable() && ex.out != nil {
		return ex.out
	}
	return ex.in
}

// Failure returns the carried failure, if any.
func (ex *Exchange) Failure() error { return ex.failure }

// SetFailure replaces the carried failure. Nil clears it.
func (ex *Exchange) SetFailure(err error) { ex.failure = err }

func (ex *Exchange) IsFailed() bool { return ex.failure != nil }

// Property reads a well-known property.
func (ex *Exchange) Property(key PropertyKey) (any, bool) { return ex.props.get(key) }
func (ex *Exchange) SetProperty(key PropertyKey, value any) {
	ex.props.put(key, value)
}
func (ex *Exchange) RemoveProperty(key PropertyKey) { ex.props.remove(key) }

// Get reads a property by name. Names of well-known keys resolve to the same slot.
func (ex *Exchange) Get(name string) (any, bool) { return ex.props.getNamed(name) }
func (ex *Exchange) Set(name string, value any) {
	ex.props.putNamed(name, value)
}
func (ex *Exchange) Remove(name string)  { ex.props.removeNamed(name) }
func (ex *Exchange) HasProperties() bool { return ex.props.len() > 0 }

// Properties returns a merged copy of all properties. It is never nil.
func (ex *Exchange) Properties() map[string]any { return ex.props.snapshot() }

// AddHistory appends an open record for node and returns its index.
func (ex *Exchange) AddHistory(node NodeDescriptor) int {
	rec := HistoryRecord{Created: clock.System.Now()}
	if node != nil {
		rec.WorkflowID = node.WorkflowID()
		rec.NodeID = node.NodeID()
	}
	ex.history = append(ex.history, rec)
	return len(ex.history) - 1
}

// FinishHistory fills the elapsed time of an open record. Finished records are left alone.
func (ex *Exchange) FinishHistory(index int, elapsed time.Duration) bool {
	if index < 0 || index >= len(ex.history) || ex.history[index].Done {
		return false
	}
	ex.history[index].Elapsed = elapsed
	ex.history[index].Done = true
	return true
}

// History returns a copy of the visited nodes in order.
func (ex *Exchange) History() []HistoryRecord { return slices.Clone(ex.history) }

// Copy returns an exchange with a new id and copies of the messages,
// properties and history. The clock is shared, so elapsed time keeps
// counting from the original start.
func (ex *Exchange) Copy() *Exchange {
	return &Exchange{
		id:      ex.gen.NextID(),
		gen:     ex.gen,
		pattern: ex.pattern,
		in:      ex.in.Copy(),
		out:     ex.out.Copy(),
		failure: ex.failure,
		props:   ex.props.clone(),
		history: slices.Clone(ex.history),
		clock:   ex.clock,
	}
}

func (ex *Exchange) String() string {
	if ex.id == "" {
		return "Exchange[<no id>]"
	}
	return "Exchange[" + ex.id + "]"
}
