package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps all generations in process memory.
// Mostly useful for tests and for running without any persistence.
type MemoryStorage struct {
	mutex       *sync.RWMutex
	generations map[string]map[string][]byte
}

var _ Storage = MemoryStorage{}

func NewMemoryStorage() MemoryStorage {
	return MemoryStorage{
		mutex:       &sync.RWMutex{},
		generations: make(map[string]map[string][]byte),
	}
}

func (m MemoryStorage) Generations(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.generations))
	for name := range m.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemoryStorage) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.generations[generation]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[key]
	return bytes, ok, nil
}

func (m MemoryStorage) Put(ctx context.Context, generation, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.open(generation)[key] = bytes
	return nil
}

func (m MemoryStorage) PutAll(ctx context.Context, generation string, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	gen := m.open(generation)
	for _, e := range entries {
		gen[e.Key] = e.Bytes
	}
	return nil
}

func (m MemoryStorage) Keys(ctx context.Context, generation string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.generations[generation]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m MemoryStorage) DeleteGenerations(ctx context.Context, match func(name string) bool) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	deleted := make([]string, 0)
	for name := range m.generations {
		if match(name) {
			delete(m.generations, name)
			deleted = append(deleted, name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (m MemoryStorage) Close() error {
	return nil
}

// open returns the entries of the generation, creating it if needed.
// The caller must hold the write lock.
func (m MemoryStorage) open(generation string) map[string][]byte {
	gen, ok := m.generations[generation]
	if !ok {
		gen = make(map[string][]byte)
		m.generations[generation] = gen
	}
	return gen
}
