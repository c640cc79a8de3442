package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned when the backend has no content for the key.
var ErrNotFound = errors.New("remote: content not found")

// TransientError wraps a failure that is worth retrying: network trouble,
// timeouts, throttling, backend 5xx. Implementations wrap before returning
// so callers can route retries without knowing the transport.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient: the caller gave up, retrying is not its decision anymore.
// Bare network errors count as transient even when unwrapped, since an
// offline device produces exactly those.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
