// Package id provides centralized ID generation for the sandbox host.
//
// Session and request IDs are ULIDs: lexicographically sortable, so session
// logs and statistics can be ordered by creation time without a separate
// timestamp. Each ID carries a short type prefix (sess_*, req_*) so that a
// bare string in a log line is still identifiable.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies one sandbox session.
type SessionID string

// RequestID identifies an API request against the session host.
type RequestID string

// ModuleID identifies a loaded module instance within a session.
type ModuleID string

const (
	SessionPrefix = "sess"
	RequestPrefix = "req"
	ModulePrefix  = "mod"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source.
// Tests pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new sandbox session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new API request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewModuleID generates a new module instance ID.
func NewModuleID() ModuleID {
	return ModuleID(Default().GenerateWithPrefix(ModulePrefix))
}
