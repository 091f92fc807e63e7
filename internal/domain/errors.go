package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument signals a malformed request (bad limit, empty id, oversized batch).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidDimension signals a vector whose length differs from the collection dimension.
	ErrInvalidDimension = errors.New("invalid vector dimension")
	// ErrNotFound signals an unknown collection or id.
	ErrNotFound = errors.New("not found")
	// ErrTimeout signals an exceeded deadline.
	ErrTimeout = errors.New("deadline exceeded")
	// ErrCircuitOpen signals a backend known to be unhealthy; no attempt was made.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrResourceExhausted signals a full bulkhead, a spent budget or a full cache.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInternal signals an unexpected backend failure.
	ErrInternal = errors.New("internal error")
)

// ErrKind is the canonical error classification shared by every protocol.
type ErrKind string

// Error kinds.
const (
	KindInvalidArgument   ErrKind = "INVALID_ARGUMENT"
	KindInvalidDimension  ErrKind = "INVALID_DIMENSION"
	KindNotFound          ErrKind = "NOT_FOUND"
	KindTimeout           ErrKind = "TIMEOUT"
	KindCircuitOpen       ErrKind = "CIRCUIT_OPEN"
	KindResourceExhausted ErrKind = "RESOURCE_EXHAUSTED"
	KindInternal          ErrKind = "INTERNAL"
)

// kindOrder lists sentinels from most to least specific.
// InvalidDimension goes first so it is not reported as a plain InvalidArgument.
var kindOrder = []struct {
	sentinel error
	kind     ErrKind
}{
	{ErrInvalidDimension, KindInvalidDimension},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrCircuitOpen, KindCircuitOpen},
	{ErrResourceExhausted, KindResourceExhausted},
	{ErrTimeout, KindTimeout},
	{context.DeadlineExceeded, KindTimeout},
	{context.Canceled, KindTimeout},
	{ErrInternal, KindInternal},
}

// KindOf classifies err. Unknown errors are Internal; nil has no kind.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// IsClientError reports whether err was caused by the caller and must never be retried
// or counted against a backend.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidArgument, KindInvalidDimension, KindNotFound:
		return true
	default:
		return false
	}
}

// AttemptsError wraps the last error of an exhausted retry loop with the attempt count.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// InvalidArgumentf builds an ErrInvalidArgument with a formatted detail message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// DimensionError reports a vector length mismatch.
func DimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d, collection expects %d", ErrInvalidDimension, got, want)
}
