package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	blobKeyPrefix = "rvm:blob:"
	blobListKey   = "rvm:blobs"
)

// RedisStore keeps blobs as string values plus a set of known names.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// List returns every known name that starts with prefix, with the prefix
// stripped. Names are flat: a name with further '/' segments is returned
// whole, and no directory entries are produced.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	names, err := s.client.SMembers(ctx, blobListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list redis blobs: %w", err)
	}

	var entries []Entry
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		entries = append(entries, Entry{Name: name[len(prefix):]})
	}
	return entries, nil
}

func (s *RedisStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, blobKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get redis blob %q: %w", name, err)
	}
	return data, nil
}

// Writer buffers locally; Close commits value and membership atomically.
func (s *RedisStore) Writer(ctx context.Context, name string) (Writer, error) {
	return &redisWriter{ctx: ctx, store: s, name: name}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisWriter struct {
	ctx   context.Context
	store *RedisStore
	name  string
	buf   bytes.Buffer
}

func (w *redisWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *redisWriter) Close() error {
	pipe := w.store.client.TxPipeline()
	pipe.Set(w.ctx, blobKeyPrefix+w.name, w.buf.Bytes(), 0)
	pipe.SAdd(w.ctx, blobListKey, w.name)
	if _, err := pipe.Exec(w.ctx); err != nil {
		return fmt.Errorf("commit redis blob %q: %w", w.name, err)
	}
	return nil
}

func (w *redisWriter) Abort() error {
	w.buf.Reset()
	return nil
}
