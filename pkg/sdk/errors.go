package vecgate

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidArgument   = domain.ErrInvalidArgument
	ErrInvalidDimension  = domain.ErrInvalidDimension
	ErrNotFound          = domain.ErrNotFound
	ErrTimeout           = domain.ErrTimeout
	ErrCircuitOpen       = domain.ErrCircuitOpen
	ErrResourceExhausted = domain.ErrResourceExhausted
	ErrInternal          = domain.ErrInternal
)

var (
	// ErrUnauthenticated is returned when the server rejects the API key.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable is returned when the server cannot be reached.
	ErrUnavailable = errors.New("server unavailable")
)

// Kind is the error classification reported by the server.
type Kind = domain.ErrKind

// KindOf classifies err the way the server does.
func KindOf(err error) Kind { return domain.KindOf(err) }

// Error is a failed call. It unwraps to the matching sentinel.
type Error struct {
	Code    codes.Code
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.err }

var kindSentinels = map[Kind]error{
	domain.KindInvalidArgument:   ErrInvalidArgument,
	domain.KindInvalidDimension:  ErrInvalidDimension,
	domain.KindNotFound:          ErrNotFound,
	domain.KindTimeout:           ErrTimeout,
	domain.KindCircuitOpen:       ErrCircuitOpen,
	domain.KindResourceExhausted: ErrResourceExhausted,
	domain.KindInternal:          ErrInternal,
}

// fromStatus converts a grpc error into an *Error. Messages carry a "KIND: " prefix
// when the gateway produced them; transport failures fall back to the status code.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	out := &Error{Code: st.Code(), Message: st.Message()}
	if kind, msg, found := strings.Cut(st.Message(), ": "); found {
		if sentinel, known := kindSentinels[Kind(kind)]; known {
			out.Kind, out.Message, out.err = Kind(kind), msg, sentinel
			return out
		}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		out.err = ErrUnauthenticated
	case codes.Unavailable:
		out.err = ErrUnavailable
	case codes.DeadlineExceeded:
		out.Kind, out.err = domain.KindTimeout, ErrTimeout
	case codes.Canceled:
		out.err = context.Canceled
	default:
		out.Kind, out.err = domain.KindInternal, ErrInternal
	}
	return out
}
