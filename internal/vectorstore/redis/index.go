package redis

import (
	"fmt"

	"github.com/kailas-cloud/vecgate/internal/db"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
)

// Key layout: vecgate:vec:{name}:<id> documents, vecgate:vec:{name}:idx index.

func indexName(name string) string {
	return fmt.Sprintf("%svec:%s:idx", domain.KeyPrefix, name)
}

func collectionPrefix(name string) string {
	return fmt.Sprintf("%svec:%s:", domain.KeyPrefix, name)
}

func docKey(name, id string) string {
	return collectionPrefix(name) + id
}

// buildIndex creates an IndexDefinition from a collection config: one field per
// declared payload field plus the vector field.
func buildIndex(cfg collection.Config, hnsw HNSWDefaults) (*db.IndexDefinition, error) {
	b := db.NewIndex(indexName(cfg.Name())).Prefix(collectionPrefix(cfg.Name()))

	for _, f := range cfg.Fields() {
		switch f.FieldType() {
		case field.Tag:
			b.Tag(f.Name())
		case field.Numeric:
			b.Numeric(f.Name())
		default:
			return nil, fmt.Errorf("unknown field type: %s", f.FieldType())
		}
	}

	h := cfg.Hints()
	if h.Algorithm == collection.Flat {
		b.VectorFlat(fieldVector, cfg.Dimension(), distance(cfg.Metric()), 0)
	} else {
		m, ef := hnsw.M, hnsw.EFConstruct
		if h.M > 0 {
			m = h.M
		}
		if h.EfConstruction > 0 {
			ef = h.EfConstruction
		}
		b.VectorHNSW(fieldVector, cfg.Dimension(), distance(cfg.Metric()), m, ef)
	}
	return b.As("vector").Build()
}
