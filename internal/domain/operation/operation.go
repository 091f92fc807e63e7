// Package operation defines the canonical request every protocol adapter translates into.
package operation

import (
	"github.com/google/uuid"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/batch"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// DefaultLimit is the search limit when the caller sends none.
const DefaultLimit = 10

// Kind is the operation variant.
type Kind string

// Operation kinds.
const (
	Search Kind = "search"
	Upsert Kind = "upsert"
	Delete Kind = "delete"
	Batch  Kind = "batch"
)

// IsWrite reports whether the kind mutates a collection.
func (k Kind) IsWrite() bool { return k == Upsert || k == Delete || k == Batch }

// IsIdempotent reports whether the kind may be retried.
func (k Kind) IsIdempotent() bool { return k == Search }

// Protocol names the ingress surface an operation arrived on.
type Protocol string

// Ingress protocols.
const (
	REST     Protocol = "rest"
	GraphQL  Protocol = "graphql"
	GRPC     Protocol = "grpc"
	Internal Protocol = "internal"
)

// Operation is an immutable canonical request. Constructors copy every slice
// and map they receive; getters hand out the stored values, which callers must not modify.
type Operation struct {
	kind       Kind
	collection string
	vector     []float32
	text       string
	embedMode  domain.EmbedMode
	filter     filter.Expression
	records    []domain.Record
	ids        []string
	limit      int
	requestID  string
	protocol   Protocol
}

// Option sets optional request metadata.
type Option func(*Operation)

// WithRequestID sets the request id. An empty id is replaced by a random UUID.
func WithRequestID(id string) Option { return func(o *Operation) { o.requestID = id } }

// WithProtocol tags the ingress protocol.
func WithProtocol(p Protocol) Option { return func(o *Operation) { o.protocol = p } }

// WithFilter sets a payload filter (Search only).
func WithFilter(f filter.Expression) Option { return func(o *Operation) { o.filter = f } }

// WithText sets query text to embed with the collection's bound model (Search only).
func WithText(text string, mode domain.EmbedMode) Option {
	return func(o *Operation) {
		o.text = text
		o.embedMode = mode
	}
}

func build(kind Kind, collection string, opts []Option) Operation {
	o := Operation{kind: kind, collection: collection, protocol: Internal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}
	if o.embedMode == "" {
		o.embedMode = domain.EmbedHybrid
	}
	return o
}

// NewSearch builds a Search. vector may be nil when WithText is given.
// limit 0 means DefaultLimit; negative values are kept so validation can reject them.
func NewSearch(collection string, vector []float32, limit int, opts ...Option) Operation {
	o := build(Search, collection, opts)
	if vector != nil {
		o.vector = append([]float32(nil), vector...)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	o.limit = limit
	return o
}

// NewUpsert builds an Upsert of records.
func NewUpsert(collection string, records []domain.Record, opts ...Option) Operation {
	o := build(Upsert, collection, opts)
	o.records = domain.CloneRecords(records)
	return o
}

// NewDelete builds a Delete of ids.
func NewDelete(collection string, ids []string, opts ...Option) Operation {
	o := build(Delete, collection, opts)
	o.ids = append([]string(nil), ids...)
	return o
}

// NewBatch builds a Batch upsert with per-item status.
func NewBatch(collection string, records []domain.Record, opts ...Option) Operation {
	o := build(Batch, collection, opts)
	o.records = domain.CloneRecords(records)
	return o
}

// Kind returns the operation variant.
func (o Operation) Kind() Kind { return o.kind }

// Collection returns the target collection.
func (o Operation) Collection() string { return o.collection }

// Vector returns the query vector (Search).
func (o Operation) Vector() []float32 { return o.vector }

// Text returns query text to embed (Search), or "".
func (o Operation) Text() string { return o.text }

// EmbedMode returns how query text is embedded.
func (o Operation) EmbedMode() domain.EmbedMode { return o.embedMode }

// Filter returns the payload filter (Search).
func (o Operation) Filter() filter.Expression { return o.filter }

// Records returns the records to write (Upsert, Batch).
func (o Operation) Records() []domain.Record { return o.records }

// IDs returns the ids to delete (Delete).
func (o Operation) IDs() []string { return o.ids }

// Limit returns the search limit.
func (o Operation) Limit() int { return o.limit }

// RequestID returns the correlation id.
func (o Operation) RequestID() string { return o.requestID }

// Protocol returns the ingress protocol.
func (o Operation) Protocol() Protocol { return o.protocol }

// WithResolvedVector returns a copy of a Search whose text has been embedded.
func (o Operation) WithResolvedVector(v []float32) Operation {
	o.vector = append([]float32(nil), v...)
	return o
}

// Result is the protocol-neutral outcome of Execute.
type Result struct {
	Kind Kind
	// Hits is set for Search.
	Hits []domain.ScoredRecord
	// CacheLevel is "l1", "l2" or "" for a Search served by the backend.
	CacheLevel string
	// Items is set for Batch, one entry per input record in input order.
	Items []batch.Result
	// Affected counts records written or ids deleted.
	Affected int
}
