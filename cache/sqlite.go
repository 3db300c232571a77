package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ Storage = SQLiteStorage{}

// NewSQLiteStorage opens the storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, fmt.Errorf("init sqlite storage: %w", err)
		}
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStorage) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE generation = ? AND key = ?", generation, key,
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteStorage) Put(ctx context.Context, generation, key string, bytes []byte) error {
	return s.PutAll(ctx, generation, []Entry{{Key: key, Bytes: bytes}})
}

func (s SQLiteStorage) PutAll(ctx context.Context, generation string, entries []Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", generation, now,
	); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (generation, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
			generation, e.Key, now, e.Bytes,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteStorage) Keys(ctx context.Context, generation string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM generations WHERE name = ?", generation).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key", generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteStorage) DeleteGenerations(ctx context.Context, match func(name string) bool) ([]string, error) {
	names, err := s.Generations(ctx)
	if err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	deleted := make([]string, 0)
	for _, name := range names {
		if !match(name) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name); err != nil {
			return nil, err
		}
		deleted = append(deleted, name)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s SQLiteStorage) Close() error {
	return s.db.Close()
}
