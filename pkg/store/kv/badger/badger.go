// Package badger provides a BadgerDB-backed implementation of kv.Store.
//
// This is the durable backend for on-device state: cached content payloads,
// download task records, and the pending sync operation log all survive
// process restarts through it.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

// Store is a BadgerDB-backed key/value store.
type Store struct {
	db *badgerdb.DB
}

// Options configures the Badger store.
type Options struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in RAM. Used in tests that need Badger
	// semantics without touching disk.
	InMemory bool

	// SyncWrites forces an fsync after each write. Slower but loses no
	// acknowledged write on power failure.
	SyncWrites bool
}

// New opens (or creates) a Badger database at path with default options.
func New(path string) (*Store, error) {
	return NewWithOptions(Options{Path: path})
}

// NewWithOptions opens a Badger database with explicit options.
func NewWithOptions(opts Options) (*Store, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, kv.NewInvalidArgumentError("", "database path must not be empty")
	}

	badgerOpts := badgerdb.DefaultOptions(opts.Path)
	badgerOpts.InMemory = opts.InMemory
	badgerOpts.SyncWrites = opts.SyncWrites
	badgerOpts.Logger = badgerLogger{}

	db, err := badgerdb.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", opts.Path, err)
	}

	return &Store{db: db}, nil
}

// Put stores value under key, overwriting any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return kv.NewInvalidArgumentError(key, "key must not be empty")
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return mapError(key, err)
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, mapError(key, err)
	}

	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	return mapError(key, err)
}

// ListKeys returns all keys beginning with prefix in lexical order.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(prefix, err)
	}

	return keys, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, badgerdb.ErrDBClosed) {
		return kv.NewIOError("", err)
	}
	return nil
}

// mapError converts Badger errors to the typed store errors callers match on.
func mapError(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return kv.NewNotFoundError(key)
	case errors.Is(err, badgerdb.ErrDBClosed):
		return kv.NewClosedError()
	case errors.Is(err, badgerdb.ErrEmptyKey):
		return kv.NewInvalidArgumentError(key, "key must not be empty")
	default:
		return kv.NewIOError(key, err)
	}
}

// badgerLogger routes Badger's internal logging through the process logger.
// Badger is chatty at info level during compaction, so info drops to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(trimmed(format, args...), logger.Component("badger"))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(trimmed(format, args...), logger.Component("badger"))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(trimmed(format, args...), logger.Component("badger"))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(trimmed(format, args...), logger.Component("badger"))
}

func trimmed(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
