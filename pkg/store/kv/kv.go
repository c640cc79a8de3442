// Package kv defines the byte-oriented key/value contract the engine
// persists through: cache payloads and metadata, download task state, and
// the sync operation log all live behind this interface.
//
// Implementations live in subpackages (memory, badger); the conformance
// suite in kvtest exercises any implementation against the semantics
// documented here.
package kv

import "context"

// Store is a durable byte-oriented key/value store.
//
// Implementations must be safe for concurrent use. Keys are arbitrary
// non-empty strings; callers namespace them with prefixes ("c:", "task:",
// "op:"). Values are opaque byte slices; implementations must not retain or
// mutate the caller's slice after Put returns, nor expose internal storage
// through Get.
type Store interface {
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value stored under key. A missing key yields a
	// StoreError with CodeNotFound (check with IsNotFound).
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys beginning with prefix, in unspecified
	// order. An empty prefix lists every key.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources. Operations after Close return a StoreError
	// with CodeClosed.
	Close() error
}
