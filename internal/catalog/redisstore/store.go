// Package redisstore keeps the filter catalog in a Redis hash, one hash per group.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/spatial-filter/internal/core/observability"
)

const keyPrefix = "spatialfilter:"

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// Store implements catalog.Store on top of HGET/HSET/HDEL/HKEYS.
type Store struct {
	rdb       *redis.Client
	key       string
	opTimeout time.Duration
}

// New connects and pings. opTimeout bounds every call; zero leaves the
// caller's context alone.
func New(ctx context.Context, addr, group string, opTimeout time.Duration, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if group == "" {
		return nil, errors.New("catalog group is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, key: keyPrefix + group, opTimeout: opTimeout}, nil
}

// Key is the hash holding this group's records.
func (s *Store) Key() string { return s.key }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	b, err := s.rdb.HGet(ctx, s.key, name).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("hget", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveStoreOp("hget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis HGET %s %q: %w", s.key, name, err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, name string, rec []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := s.rdb.HSet(ctx, s.key, name, rec).Err()
	observability.ObserveStoreOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %s %q: %w", s.key, name, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := s.rdb.HDel(ctx, s.key, name).Err()
	observability.ObserveStoreOp("hdel", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HDEL %s %q: %w", s.key, name, err)
	}
	return nil
}

// Keys lists record names sorted, since HKEYS order is unspecified.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	names, err := s.rdb.HKeys(ctx, s.key).Result()
	observability.ObserveStoreOp("hkeys", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HKEYS %s: %w", s.key, err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	return err
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
