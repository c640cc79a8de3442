// Package memory provides an in-memory key/value store implementation for
// testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/voxbiblia/ark/pkg/store/kv"
)

// Store is an in-memory implementation of kv.Store.
//
// It is thread-safe but ephemeral. All data is lost on restart. Use this for
// testing and development only.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New creates a new in-memory key/value store.
func New() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Put stores value under key, overwriting any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kv.NewInvalidArgumentError(key, "key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.NewClosedError()
	}

	// Copy so the caller's slice cannot mutate stored state
	copied := make([]byte, len(value))
	copy(copied, value)
	s.data[key] = copied

	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.NewClosedError()
	}

	value, ok := s.data[key]
	if !ok {
		return nil, kv.NewNotFoundError(key)
	}

	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.NewClosedError()
	}

	delete(s.data, key)
	return nil
}

// ListKeys returns all keys beginning with prefix, sorted for deterministic
// output.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.NewClosedError()
	}

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close marks the store as closed and releases its contents.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

// Len returns the number of keys stored (for testing).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
