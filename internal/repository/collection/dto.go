package collection

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
)

// fieldRow is the JSON-serializable representation of a field for HSET.
type fieldRow struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// configToHash converts a Config to a map for HSET.
func configToHash(cfg collection.Config) (map[string]string, error) {
	rows := make([]fieldRow, len(cfg.Fields()))
	for i, f := range cfg.Fields() {
		rows[i] = fieldRow{Name: f.Name(), Type: string(f.FieldType())}
	}
	fieldsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	h := cfg.Hints()
	return map[string]string{
		"name":            cfg.Name(),
		"dimension":       strconv.Itoa(cfg.Dimension()),
		"metric":          string(cfg.Metric()),
		"algorithm":       string(h.Algorithm),
		"m":               strconv.Itoa(h.M),
		"ef_construction": strconv.Itoa(h.EfConstruction),
		"bound_model":     cfg.BoundModel(),
		"batch_limit":     strconv.Itoa(cfg.BatchLimit()),
		"fields_json":     string(fieldsJSON),
		"created_at":      strconv.FormatInt(cfg.CreatedAt(), 10),
		"revision":        strconv.Itoa(cfg.Revision()),
	}, nil
}

// configFromHash hydrates a Config from an HGETALL result map.
func configFromHash(m map[string]string) (collection.Config, error) {
	name := m["name"]

	dim, err := strconv.Atoi(m["dimension"])
	if err != nil {
		return collection.Config{}, fmt.Errorf("invalid dimension: %w", err)
	}
	metric, err := collection.ParseMetric(m["metric"])
	if err != nil {
		return collection.Config{}, err
	}
	createdAt, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return collection.Config{}, fmt.Errorf("invalid created_at: %w", err)
	}

	var rows []fieldRow
	if raw := m["fields_json"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rows); err != nil {
			return collection.Config{}, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	fields := make([]field.Field, len(rows))
	for i, r := range rows {
		fields[i] = field.Reconstruct(r.Name, field.Type(r.Type))
	}

	hints := collection.IndexHints{
		Algorithm:      collection.Algorithm(m["algorithm"]),
		M:              atoiOr(m["m"], 0),
		EfConstruction: atoiOr(m["ef_construction"], 0),
	}
	if hints.Algorithm == "" {
		hints.Algorithm = collection.HNSW
	}

	return collection.Reconstruct(
		name, dim, metric, hints,
		m["bound_model"],
		atoiOr(m["batch_limit"], collection.DefaultBatchLimit),
		fields, createdAt,
		atoiOr(m["revision"], 1),
	), nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
