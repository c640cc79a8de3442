package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache is closed")

	// ErrNotFound is returned by Pin and Unpin when the key has no entry.
	ErrNotFound = errors.New("cache entry not found")
)

// QuotaError reports a write the storage budget could not admit. It is
// distinct from network and storage failures so callers can surface it as a
// storage-full condition rather than a retryable fault.
type QuotaError struct {
	Key       string
	Requested int64

	// BytesShort is how many bytes eviction failed to free. Zero when the
	// request was denied outright.
	BytesShort int64

	// Denied marks requests larger than the entire budget, which no amount
	// of eviction can satisfy.
	Denied bool
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	if e.Denied {
		return fmt.Sprintf("quota denied: %d bytes exceed the storage budget (key: %s)", e.Requested, e.Key)
	}
	return fmt.Sprintf("quota exhausted: %d bytes short after eviction for %d byte write (key: %s)", e.BytesShort, e.Requested, e.Key)
}

// IsQuotaError reports whether err is a QuotaError.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
