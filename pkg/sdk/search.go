package vecgate

import (
	"context"
	"time"

	"github.com/kailas-cloud/vecgate/internal/transport/grpcapi"
)

// SearchBuilder is a fluent builder for a single query.
type SearchBuilder struct {
	client     *Client
	collection string

	vector []float32
	text   string
	mode   EmbedMode

	filter Filter
	limit  int
}

// Vector queries with a precomputed vector.
func (b *SearchBuilder) Vector(v []float32) *SearchBuilder {
	b.vector = v
	return b
}

// Text queries with text embedded by the collection's bound model.
func (b *SearchBuilder) Text(q string) *SearchBuilder {
	b.text = q
	return b
}

// Mode sets the embed mode for Text queries. Default: hybrid.
func (b *SearchBuilder) Mode(m EmbedMode) *SearchBuilder {
	b.mode = m
	return b
}

// Where adds a must tag condition (exact match).
func (b *SearchBuilder) Where(key, value string) *SearchBuilder {
	b.filter.Must = append(b.filter.Must, FilterCondition{Key: key, Match: value})
	return b
}

// WhereNot adds a must_not tag condition.
func (b *SearchBuilder) WhereNot(key, value string) *SearchBuilder {
	b.filter.MustNot = append(b.filter.MustNot, FilterCondition{Key: key, Match: value})
	return b
}

// Between adds a must numeric range condition. Nil bounds are open.
func (b *SearchBuilder) Between(key string, gte, lte *float64) *SearchBuilder {
	b.filter.Must = append(b.filter.Must, FilterCondition{Key: key, Range: &RangeFilter{GTE: gte, LTE: lte}})
	return b
}

// Filter replaces the whole filter expression.
func (b *SearchBuilder) Filter(f Filter) *SearchBuilder {
	b.filter = f
	return b
}

// Limit sets the maximum number of results. Zero uses the server default.
func (b *SearchBuilder) Limit(n int) *SearchBuilder {
	b.limit = n
	return b
}

// Do executes the search.
func (b *SearchBuilder) Do(ctx context.Context) (res SearchResult, err error) {
	defer func(start time.Time) { b.client.obs.observe("search", start, err) }(time.Now())

	req := &grpcapi.SearchRequest{
		Collection: b.collection,
		Vector:     b.vector,
		Text:       b.text,
		EmbedMode:  string(b.mode),
		Limit:      b.limit,
	}
	if len(b.filter.Must)+len(b.filter.Should)+len(b.filter.MustNot) > 0 {
		f := b.filter
		req.Filter = &f
	}
	resp, err := b.client.api.Search(ctx, req)
	if err != nil {
		return SearchResult{}, fromStatus(err)
	}
	return SearchResult{Hits: resp.Hits, Cache: resp.Cache}, nil
}
