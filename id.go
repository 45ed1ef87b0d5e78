package exchange

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator assigns exchange and message ids.
type IDGenerator interface {
	NextID() string
}

// IDGeneratorFunc adapts a plain function to IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NextID() string { return f() }

// UUIDGenerator produces random (v4) UUIDs. It is the default.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string { return uuid.NewString() }

// ULIDGenerator produces lexicographically sortable ids. Ids created within
// the same millisecond are monotonic.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewULIDGenerator uses crypto/rand as the entropy source.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDGenerator) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// EmptyIDGenerator always returns "". Exchanges built with it cannot be
// correlated by id; only use it when ids are not needed.
type EmptyIDGenerator struct{}

func (EmptyIDGenerator) NextID() string { return "" }

// IsEmptyIDGenerator reports whether gen is the empty generator.
func IsEmptyIDGenerator(gen IDGenerator) bool {
	switch gen.(type) {
	case EmptyIDGenerator, *EmptyIDGenerator:
		return true
	}
	return false
}

var defaultIDGenerator IDGenerator = UUIDGenerator{}

// DefaultIDGenerator returns the generator used when none is configured.
func DefaultIDGenerator() IDGenerator { return defaultIDGenerator }
