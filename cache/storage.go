package cache

import (
	"context"
	"errors"
)

var ErrGenerationNotFound = errors.New("cache generation not found")

// Storage stores cache generations: named buckets of (request key -> snapshot bytes).
// The controller only ever writes to the current generation,
// but a storage may hold several generations until activation sweeps the stale ones.
//
// Implementations must be thread-safe!
// Concurrent writes to the same key are last-write-wins.
type Storage interface {
	// Generations returns the names of all stored generations.
	Generations(ctx context.Context) ([]string, error)
	// Get returns the stored bytes for the key in the given generation.
	// The boolean reports whether the key was found.
	// A missing generation is a miss, not an error.
	Get(ctx context.Context, generation, key string) ([]byte, bool, error)
	// Put stores the bytes under the key, creating the generation if absent.
	Put(ctx context.Context, generation, key string, bytes []byte) error
	// PutAll stores all entries at once, creating the generation if absent.
	// Either every entry is written or none is.
	PutAll(ctx context.Context, generation string, entries []Entry) error
	// Keys returns all keys of the given generation.
	// It returns ErrGenerationNotFound if the generation does not exist.
	Keys(ctx context.Context, generation string) ([]string, error)
	// DeleteGenerations removes every generation for which match returns true,
	// and returns the names of the removed generations.
	DeleteGenerations(ctx context.Context, match func(name string) bool) ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

type Entry struct {
	Key   string
	Bytes []byte
}
