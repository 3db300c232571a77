// Package theme holds the site's light/dark preference.
package theme

import (
	"sync"
)

type Theme string

const (
	Dark  Theme = "dark"
	Light Theme = "light"
)

// StorageKey is the key the preference is saved under.
const StorageKey = "site-theme"

// Parse maps a saved value to a theme. Only "light" is light.
func Parse(saved string) Theme {
	if Theme(saved) == Light {
		return Light
	}
	return Dark
}

// Backend is a string key-value store the preference is persisted in.
type Backend interface {
	Load(key string) (string, bool)
	Save(key, value string)
}

// MapBackend keeps values in memory.
type MapBackend struct {
	mutex  sync.RWMutex
	values map[string]string
}

func NewMapBackend() *MapBackend {
	return &MapBackend{values: map[string]string{}}
}

func (m *MapBackend) Load(key string) (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MapBackend) Save(key, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[key] = value
}

// Store exposes the theme preference and notifies subscribers on change.
type Store struct {
	backend     Backend
	mutex       sync.Mutex
	nextID      int
	subscribers map[int]func(Theme)
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend:     backend,
		subscribers: map[int]func(Theme){},
	}
}

// Get returns the saved theme, dark if nothing was saved.
func (s *Store) Get() Theme {
	saved, _ := s.backend.Load(StorageKey)
	return Parse(saved)
}

// Set saves the theme and notifies subscribers.
// Subscribers are called synchronously, outside the store's lock.
func (s *Store) Set(t Theme) {
	t = Parse(string(t))
	s.backend.Save(StorageKey, string(t))

	s.mutex.Lock()
	subs := make([]func(Theme), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mutex.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// Toggle switches between light and dark and returns the new theme.
func (s *Store) Toggle() Theme {
	next := Light
	if s.Get() == Light {
		next = Dark
	}
	s.Set(next)
	return next
}

// Subscribe registers fn to be called on every Set. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Theme)) (unsubscribe func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.subscribers, id)
	}
}
