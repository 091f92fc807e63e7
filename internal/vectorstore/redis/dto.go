package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecgate/internal/db"
	dbredis "github.com/kailas-cloud/vecgate/internal/db/redis"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

const (
	fieldVector  = "__vector"
	fieldID      = vectorstore.PayloadIDKey
	fieldPayload = "_payload"
)

// buildHashFields flattens a record for HSET: the vector blob, the id, the full
// payload as JSON, and a top-level copy of every indexed field so FT filters see it.
func buildHashFields(cfg collection.Config, r *domain.Record) (map[string]string, error) {
	m := make(map[string]string, 3+len(cfg.Fields()))
	m[fieldVector] = dbredis.EncodeVector(r.Vector)
	m[fieldID] = r.ID
	if len(r.Payload) > 0 {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, domain.InvalidArgumentf("record %q payload: %v", r.ID, err)
		}
		m[fieldPayload] = string(raw)
	}

	for _, f := range cfg.Fields() {
		v, ok := r.Payload[f.Name()]
		if !ok || v == nil {
			continue
		}
		switch f.FieldType() {
		case field.Numeric:
			n, ok := toNumber(v)
			if !ok {
				return nil, domain.InvalidArgumentf("record %q: field %q must be numeric", r.ID, f.Name())
			}
			m[f.Name()] = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			m[f.Name()] = tagValue(v)
		}
	}
	return m, nil
}

// parseHit turns an FT.SEARCH entry back into a scored record.
func parseHit(collectionName string, e db.SearchEntry) (domain.ScoredRecord, error) {
	hit := domain.ScoredRecord{ID: e.Fields[fieldID], Score: e.Score}
	if hit.ID == "" {
		hit.ID = strings.TrimPrefix(e.Key, collectionPrefix(collectionName))
	}
	if raw := e.Fields[fieldPayload]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &hit.Payload); err != nil {
			return domain.ScoredRecord{}, fmt.Errorf("decode payload of %s: %w", e.Key, err)
		}
	}
	return hit, nil
}

// tagValue renders a payload value as an FT TAG. Lists become comma-separated tags.
func tagValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ",")
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
