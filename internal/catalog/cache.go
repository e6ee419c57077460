package catalog

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/spatial-filter/internal/core/observability"
)

// CachedStore is a read-through LRU in front of a slower Store. Writes go to
// the backing store first and then refresh the cache.
type CachedStore struct {
	next  Store
	cache *lru.Cache[string, []byte]
}

// NewCachedStore returns next unchanged when size <= 0.
func NewCachedStore(next Store, size int) Store {
	if size <= 0 {
		return next
	}
	c, _ := lru.New[string, []byte](size)
	return &CachedStore{next: next, cache: c}
}

func (s *CachedStore) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if b, ok := s.cache.Get(name); ok {
		observability.IncCacheHit()
		return append([]byte(nil), b...), true, nil
	}
	observability.IncCacheMiss()
	b, ok, err := s.next.Get(ctx, name)
	if err != nil || !ok {
		return b, ok, err
	}
	s.cache.Add(name, append([]byte(nil), b...))
	return b, true, nil
}

func (s *CachedStore) Set(ctx context.Context, name string, rec []byte) error {
	if err := s.next.Set(ctx, name, rec); err != nil {
		s.cache.Remove(name)
		return err
	}
	s.cache.Add(name, append([]byte(nil), rec...))
	return nil
}

func (s *CachedStore) Remove(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.next.Remove(ctx, name)
}

func (s *CachedStore) Keys(ctx context.Context) ([]string, error) {
	return s.next.Keys(ctx)
}

// Evict forgets one cached record.
func (s *CachedStore) Evict(name string) {
	s.cache.Remove(name)
}

// Purge drops every cached record, e.g. after another process changed the catalog.
func (s *CachedStore) Purge() {
	s.cache.Purge()
}
