// Package redisstorage implements storage.Backend on Redis. Session values are
// plain string keys; each counter is a hash of key to total.
package redisstorage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eternity-ar/arcoord/internal/storage/kv"
	goredis "github.com/redis/go-redis/v9"
)

// Config selects the Redis server and the key namespace.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Backend implements storage.Backend using Redis.
type Backend struct {
	cfg Config
	rdb *goredis.Client
}

// New creates a Redis backend. No connection is made until Init.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// ValueKey returns the Redis key holding a session value.
func (b *Backend) ValueKey(key string) string {
	return b.cfg.Prefix + "value:" + key
}

// CounterKey returns the Redis hash holding a counter.
func (b *Backend) CounterKey(counter string) string {
	return b.cfg.Prefix + "counter:" + counter
}

// Init connects and pings the server.
func (b *Backend) Init(ctx context.Context) error {
	if b.cfg.Address == "" {
		return errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        b.cfg.Address,
		Password:    b.cfg.Password,
		DB:          b.cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	b.rdb = rdb
	return nil
}

func (b *Backend) Close() error {
	if b.rdb == nil {
		return nil
	}
	err := b.rdb.Close()
	b.rdb = nil
	return err
}

func (b *Backend) client() (*goredis.Client, error) {
	if b.rdb == nil {
		return nil, errors.New("redis backend not initialized")
	}
	return b.rdb, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rdb, err := b.client()
	if err != nil {
		return nil, false, err
	}
	v, err := rdb.Get(ctx, b.ValueKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.Validate(value); err != nil {
		return err
	}
	rdb, err := b.client()
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, b.ValueKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	rdb, err := b.client()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, b.ValueKey(key)).Err()
}

func (b *Backend) IncrementCounter(ctx context.Context, counter, key string, delta int64) (int64, error) {
	rdb, err := b.client()
	if err != nil {
		return 0, err
	}
	n, err := rdb.HIncrBy(ctx, b.CounterKey(counter), key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", counter, key, err)
	}
	return n, nil
}

func (b *Backend) Counters(ctx context.Context, counter string) (map[string]int64, error) {
	rdb, err := b.client()
	if err != nil {
		return nil, err
	}
	raw, err := rdb.HGetAll(ctx, b.CounterKey(counter)).Result()
	if err != nil {
		return nil, fmt.Errorf("counters %s: %w", counter, err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s/%s holds %q: %w", counter, k, v, err)
		}
		out[k] = n
	}
	return out, nil
}

// Flush removes every key under the configured prefix.
func (b *Backend) Flush(ctx context.Context) error {
	rdb, err := b.client()
	if err != nil {
		return err
	}
	iter := rdb.Scan(ctx, 0, b.cfg.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
