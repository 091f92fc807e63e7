package domain

import "maps"

// Record is a vector with its id and payload as written to a collection.
type Record struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector,omitempty"`
	// Text is embedded with the collection's bound model when Vector is empty.
	Text    string         `json:"text,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Clone returns a deep copy so callers can't mutate a record after it was handed over.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Text: r.Text}
	if r.Vector != nil {
		out.Vector = append([]float32(nil), r.Vector...)
	}
	if r.Payload != nil {
		out.Payload = maps.Clone(r.Payload)
	}
	return out
}

// ScoredRecord is a single search hit. Score is similarity for cosine and dot
// collections and distance for euclidean ones.
type ScoredRecord struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CloneRecords deep-copies a record slice.
func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
