// Package id provides centralized ID generation for the pipeline.
//
// ULIDs are used for every identifier: lexicographically sortable, so
// item debug IDs in logs reproduce enqueue order, with type-specific
// prefixes (xfer_*, chan_*) that keep logs readable and prevent ID misuse
// at compile time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// XferID identifies a transfer item. Diagnostics only, never used for
// correctness.
type XferID string

// ChannelID identifies a consumer control channel handle.
type ChannelID string

const (
	XferPrefix    = "xfer"
	ChannelPrefix = "chan"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with cryptographically secure
// entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy
// source. Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
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

// NewXferID generates a new transfer item debug ID.
func NewXferID() XferID {
	return XferID(Default().GenerateWithPrefix(XferPrefix))
}

// NewChannelID generates a new control channel handle ID.
func NewChannelID() ChannelID {
	return ChannelID(Default().GenerateWithPrefix(ChannelPrefix))
}

func (id XferID) String() string    { return string(id) }
func (id ChannelID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
