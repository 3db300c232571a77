package cache

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// Memoized is a read-through in-process layer in front of another storage.
// Only hits are memoized. Writes go to the backing storage and invalidate the key,
// and deleting generations clears the whole memo.
// A read that overlaps any write is not memoized.
type Memoized struct {
	Storage
	memo *ristretto.Cache

	// guards writes against memo fills
	mutex  sync.Mutex
	writes uint64
}

var _ Storage = (*Memoized)(nil)

// NewMemoized wraps the backing storage with a memo of roughly maxBytes.
func NewMemoized(backing Storage, maxBytes int64) (*Memoized, error) {
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: max(maxBytes/100, 100),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memoized{Storage: backing, memo: memo}, nil
}

func memoKey(generation, key string) string {
	return generation + "\x00" + key
}

func (m *Memoized) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	mk := memoKey(generation, key)
	if v, ok := m.memo.Get(mk); ok {
		return v.([]byte), true, nil
	}
	m.mutex.Lock()
	seen := m.writes
	m.mutex.Unlock()

	bytes, ok, err := m.Storage.Get(ctx, generation, key)
	if err != nil || !ok {
		return bytes, ok, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.writes == seen {
		m.memo.Set(mk, bytes, int64(len(bytes)))
	}
	return bytes, true, nil
}

// invalidate runs after a write to the backing storage.
// It is serialized with memo fills, so no fill started before it can land after it.
func (m *Memoized) invalidate(clear func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.writes++
	clear()
}

func (m *Memoized) Put(ctx context.Context, generation, key string, bytes []byte) error {
	err := m.Storage.Put(ctx, generation, key, bytes)
	m.invalidate(func() { m.memo.Del(memoKey(generation, key)) })
	return err
}

func (m *Memoized) PutAll(ctx context.Context, generation string, entries []Entry) error {
	err := m.Storage.PutAll(ctx, generation, entries)
	m.invalidate(func() {
		for _, e := range entries {
			m.memo.Del(memoKey(generation, e.Key))
		}
	})
	return err
}

func (m *Memoized) DeleteGenerations(ctx context.Context, match func(name string) bool) ([]string, error) {
	deleted, err := m.Storage.DeleteGenerations(ctx, match)
	if len(deleted) > 0 {
		m.invalidate(m.memo.Clear)
	}
	return deleted, err
}

// Wait blocks until pending memo writes are applied.
func (m *Memoized) Wait() {
	m.memo.Wait()
}

func (m *Memoized) Close() error {
	m.memo.Close()
	return m.Storage.Close()
}
