package chi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/logger"
)

// codeBadRequest marks malformed bodies and parameters the domain never saw.
const codeBadRequest = "BAD_REQUEST"

// codeUnauthorized marks a missing or unknown API key.
const codeUnauthorized = "UNAUTHORIZED"

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// newErrorHandlers lists sentinel mappings from most to least specific.
// Anything unmatched is answered as 500 INTERNAL.
func (s *Server) newErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidDimension, http.StatusBadRequest, domain.KindInvalidDimension),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, domain.KindInvalidArgument),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, domain.KindNotFound),
		unavailableHandler(domain.ErrCircuitOpen, domain.KindCircuitOpen, s.circuitRetryAfter),
		unavailableHandler(domain.ErrResourceExhausted, domain.KindResourceExhausted, s.exhaustedRetryAfter),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, domain.KindTimeout),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, domain.KindTimeout),
		sentinelHandler(context.Canceled, http.StatusGatewayTimeout, domain.KindTimeout),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeMessage keeps caller mistakes verbose and hides backend details.
func safeMessage(err error) string {
	if domain.IsClientError(err) {
		return err.Error()
	}
	switch domain.KindOf(err) {
	case domain.KindTimeout:
		return domain.ErrTimeout.Error()
	case domain.KindCircuitOpen:
		return domain.ErrCircuitOpen.Error()
	case domain.KindResourceExhausted:
		return domain.ErrResourceExhausted.Error()
	default:
		return domain.ErrInternal.Error()
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, kind domain.ErrKind) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, string(kind), msg)
		return true
	}
}

// unavailableHandler answers 503 with a Retry-After hint in whole seconds.
func unavailableHandler(sentinel error, kind domain.ErrKind, after func() time.Duration) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(after())))
		writeError(w, http.StatusServiceUnavailable, string(kind), msg)
		return true
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func (s *Server) circuitRetryAfter() time.Duration {
	if s.tunables == nil {
		return defaultRetryAfter
	}
	return s.tunables.Tunables().Resilience.ResetTimeout
}

func (s *Server) exhaustedRetryAfter() time.Duration { return defaultRetryAfter }

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	msg := safeMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			if !domain.IsClientError(err) {
				log.Warn("domain error", zap.Error(err))
			}
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, string(domain.KindInternal), msg)
}
