package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// testStorage runs the behavior every storage implementation must share.
func testStorage(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStorage(t)
		if _, ok, err := s.Get(ctx, "v1", "GET:http://site/"); err != nil || ok {
			t.Fatalf("Expected miss on empty storage, got ok=%v err=%v", ok, err)
		}
		if err := s.Put(ctx, "v1", "GET:http://site/", []byte("home")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		b, ok, err := s.Get(ctx, "v1", "GET:http://site/")
		if err != nil || !ok || string(b) != "home" {
			t.Fatalf("Get returned %q ok=%v err=%v", b, ok, err)
		}
		if _, ok, _ := s.Get(ctx, "v2", "GET:http://site/"); ok {
			t.Fatalf("Entry leaked into another generation")
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStorage(t)
		s.Put(ctx, "v1", "k", []byte("first"))
		s.Put(ctx, "v1", "k", []byte("second"))
		b, _, _ := s.Get(ctx, "v1", "k")
		if string(b) != "second" {
			t.Fatalf("Value is %q", b)
		}
		keys, err := s.Keys(ctx, "v1")
		if err != nil || len(keys) != 1 {
			t.Fatalf("Keys are %v (%v)", keys, err)
		}
	})

	t.Run("put all creates generation", func(t *testing.T) {
		s := newStorage(t)
		if err := s.PutAll(ctx, "v1", nil); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		names, err := s.Generations(ctx)
		if err != nil || len(names) != 1 || names[0] != "v1" {
			t.Fatalf("Generations are %v (%v)", names, err)
		}
		keys, err := s.Keys(ctx, "v1")
		if err != nil || len(keys) != 0 {
			t.Fatalf("Keys are %v (%v)", keys, err)
		}
		err = s.PutAll(ctx, "v1", []Entry{{"a", []byte("1")}, {"b", []byte("2")}})
		if err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		keys, _ = s.Keys(ctx, "v1")
		if fmt.Sprint(keys) != "[a b]" {
			t.Fatalf("Keys are %v", keys)
		}
	})

	t.Run("keys of missing generation", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.Keys(ctx, "nope"); !errors.Is(err, ErrGenerationNotFound) {
			t.Fatalf("Expected ErrGenerationNotFound, got %v", err)
		}
	})

	t.Run("delete generations by predicate", func(t *testing.T) {
		s := newStorage(t)
		for _, gen := range []string{"v1", "v2", "v3"} {
			s.Put(ctx, gen, "k", []byte(gen))
		}
		deleted, err := s.DeleteGenerations(ctx, func(name string) bool { return name != "v3" })
		if err != nil {
			t.Fatalf("DeleteGenerations: %v", err)
		}
		if fmt.Sprint(deleted) != "[v1 v2]" {
			t.Fatalf("Deleted %v", deleted)
		}
		names, _ := s.Generations(ctx)
		if fmt.Sprint(names) != "[v3]" {
			t.Fatalf("Generations are %v", names)
		}
		if _, ok, _ := s.Get(ctx, "v1", "k"); ok {
			t.Fatalf("Deleted generation still has entries")
		}
		if b, ok, _ := s.Get(ctx, "v3", "k"); !ok || string(b) != "v3" {
			t.Fatalf("Kept generation lost its entry")
		}
	})

	t.Run("concurrent writes", func(t *testing.T) {
		s := newStorage(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Put(ctx, "v1", fmt.Sprintf("k%d", i%5), []byte{byte(i)}); err != nil {
					t.Errorf("Put: %v", err)
				}
			}(i)
		}
		wg.Wait()
		keys, _ := s.Keys(ctx, "v1")
		if len(keys) != 5 {
			t.Fatalf("Keys are %v", keys)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestSQLiteStorage(t *testing.T) {
	testStorage(t, func(t *testing.T) Storage {
		s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
		if err != nil {
			t.Fatalf("Could not open sqlite storage: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoizedStorage(t *testing.T) {
	testStorage(t, func(t *testing.T) Storage {
		m, err := NewMemoized(NewMemoryStorage(), 1<<20)
		if err != nil {
			t.Fatalf("Could not create memo: %v", err)
		}
		t.Cleanup(func() { m.Close() })
		return m
	})
}

func TestMemoizedInvalidatesOnPut(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemoized(NewMemoryStorage(), 1<<20)
	if err != nil {
		t.Fatalf("Could not create memo: %v", err)
	}
	defer m.Close()

	m.Put(ctx, "v1", "k", []byte("old"))
	m.Get(ctx, "v1", "k")
	m.Wait()
	m.Put(ctx, "v1", "k", []byte("new"))
	if b, _, _ := m.Get(ctx, "v1", "k"); string(b) != "new" {
		t.Fatalf("Memo served stale value %q", b)
	}

	m.Wait()
	m.DeleteGenerations(ctx, func(string) bool { return true })
	if _, ok, _ := m.Get(ctx, "v1", "k"); ok {
		t.Fatalf("Memo served entry of deleted generation")
	}
}

// stalledStorage holds the first Get after reading, until released.
type stalledStorage struct {
	Storage
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stalledStorage) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	bytes, ok, err := s.Storage.Get(ctx, generation, key)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return bytes, ok, err
}

func TestMemoizedFillDoesNotOverrideWrite(t *testing.T) {
	ctx := context.Background()
	backing := &stalledStorage{
		Storage: NewMemoryStorage(),
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	backing.Storage.Put(ctx, "v1", "k", []byte("old"))
	m, err := NewMemoized(backing, 1<<20)
	if err != nil {
		t.Fatalf("Could not create memo: %v", err)
	}
	defer m.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Get(ctx, "v1", "k")
	}()
	<-backing.read
	m.Put(ctx, "v1", "k", []byte("new"))
	close(backing.release)
	<-done
	m.Wait()

	if b, _, _ := m.Get(ctx, "v1", "k"); string(b) != "new" {
		t.Fatalf("Memo served stale value %q", b)
	}
}
