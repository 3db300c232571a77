package cache

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("redis storage: nil client")

// RedisStorage keeps the generation names in a set
// and every generation in a hash of key -> bytes.
type RedisStorage struct {
	rdb         redis.UniversalClient
	prefix      string
	closeClient bool
}

var _ Storage = (*RedisStorage)(nil)

type RedisConfig struct {
	Client redis.UniversalClient
	// Prefix for all redis keys, e.g. "offline-cache:".
	Prefix string
	// Set true only if this storage exclusively owns the client.
	CloseClient bool
}

func NewRedisStorage(cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &RedisStorage{rdb: cfg.Client, prefix: cfg.Prefix, closeClient: cfg.CloseClient}, nil
}

func (r *RedisStorage) generationsKey() string {
	return r.prefix + "generations"
}

func (r *RedisStorage) generationKey(name string) string {
	return r.prefix + "generation:" + name
}

func (r *RedisStorage) Generations(ctx context.Context) ([]string, error) {
	names, err := r.rdb.SMembers(ctx, r.generationsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisStorage) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	b, err := r.rdb.HGet(ctx, r.generationKey(generation), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisStorage) Put(ctx context.Context, generation, key string, bytes []byte) error {
	return r.PutAll(ctx, generation, []Entry{{Key: key, Bytes: bytes}})
}

func (r *RedisStorage) PutAll(ctx context.Context, generation string, entries []Entry) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.generationsKey(), generation)
		if len(entries) == 0 {
			return nil
		}
		values := make([]interface{}, 0, len(entries)*2)
		for _, e := range entries {
			values = append(values, e.Key, e.Bytes)
		}
		pipe.HSet(ctx, r.generationKey(generation), values...)
		return nil
	})
	return err
}

func (r *RedisStorage) Keys(ctx context.Context, generation string) ([]string, error) {
	exists, err := r.rdb.SIsMember(ctx, r.generationsKey(), generation).Result()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrGenerationNotFound
	}
	keys, err := r.rdb.HKeys(ctx, r.generationKey(generation)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStorage) DeleteGenerations(ctx context.Context, match func(name string) bool) ([]string, error) {
	names, err := r.Generations(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	for _, name := range names {
		if match(name) {
			deleted = append(deleted, name)
		}
	}
	if len(deleted) == 0 {
		return deleted, nil
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range deleted {
			pipe.SRem(ctx, r.generationsKey(), name)
			pipe.Del(ctx, r.generationKey(name))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Close releases the underlying redis client only when this storage owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (r *RedisStorage) Close() error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}
