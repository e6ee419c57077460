package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mohammed-shakir/spatial-filter/internal/filter"
)

// Store is a string-keyed record store scoped to one group. Implementations
// guarantee atomic get/set per key; nothing spans keys.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Set(ctx context.Context, name string, rec []byte) error
	Remove(ctx context.Context, name string) error
	Keys(ctx context.Context) ([]string, error)
}

// EncodeRecord serialises a storage record as a msgpack array.
func EncodeRecord(r filter.Record) ([]byte, error) {
	b, err := msgpack.Marshal([]any(r))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord reverses EncodeRecord. Corrupt payloads wrap ErrMalformedRecord.
func DecodeRecord(b []byte) (filter.Record, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", filter.ErrMalformedRecord)
	}
	var v []any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", filter.ErrMalformedRecord, err)
	}
	return filter.Record(v), nil
}

// MemoryStore keeps records in process, listing keys in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	recs  map[string][]byte
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, name string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.recs[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, name string, rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[name]; !ok {
		s.order = append(s.order, name)
	}
	s.recs[name] = append([]byte(nil), rec...)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[name]; !ok {
		return nil
	}
	delete(s.recs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}
