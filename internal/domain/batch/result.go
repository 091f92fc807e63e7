package batch

import "github.com/kailas-cloud/vecgate/internal/domain"

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of one item in a batch upsert or bulk embed.
type Result struct {
	id     string
	status ItemStatus
	err    error
	vector []float32
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewEmbedded creates a successful bulk-embed result carrying the vector.
func NewEmbedded(id string, vector []float32) Result {
	return Result{id: id, status: StatusOK, vector: vector}
}

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the item identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Kind classifies the item error; empty for successful items.
func (r Result) Kind() domain.ErrKind { return domain.KindOf(r.err) }

// Vector returns the embedding of a bulk-embed item.
func (r Result) Vector() []float32 { return r.vector }

// CountOK returns how many results succeeded.
func CountOK(results []Result) int {
	n := 0
	for _, r := range results {
		if r.status == StatusOK {
			n++
		}
	}
	return n
}
