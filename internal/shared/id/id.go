// Package id provides ID generation for worker instances.
//
// IDs are prefixed ULIDs, sortable by creation time and readable in logs
// ("wrk_01HF...").
package id

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkerPrefix tags worker IDs
const WorkerPrefix = "wrk"

// ErrInvalidWorkerID is returned for IDs that are not prefixed ULIDs
var ErrInvalidWorkerID = errors.New("invalid worker id")

// WorkerID identifies one worker process
type WorkerID string

// Generator produces ULIDs that increase monotonically within a millisecond
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator reading randomness from entropy.
// Tests pass a fixed reader for repeatable output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WorkerID creates a new prefixed worker ID
func (g *Generator) WorkerID() WorkerID {
	return WorkerID(WorkerPrefix + "_" + g.Generate().String())
}

// NewWorkerID generates a worker ID from the default generator
func NewWorkerID() WorkerID {
	return Default().WorkerID()
}

func (id WorkerID) String() string { return string(id) }

// Timestamp returns the creation time encoded in the ID
func (id WorkerID) Timestamp() (time.Time, error) {
	raw, ok := strings.CutPrefix(string(id), WorkerPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidWorkerID, WorkerPrefix)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidWorkerID, err)
	}
	return ulid.Time(u.Time()), nil
}
