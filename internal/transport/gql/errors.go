package gql

import (
	"github.com/kailas-cloud/vecgate/internal/domain"
)

// kindError exposes the canonical error kind as extensions.code.
// graphql-go copies Extensions of resolver errors into the response.
type kindError struct {
	err error
}

func (e *kindError) Error() string {
	if domain.IsClientError(e.err) {
		return e.err.Error()
	}
	switch domain.KindOf(e.err) {
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

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(domain.KindOf(e.err))}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{err: err}
}
