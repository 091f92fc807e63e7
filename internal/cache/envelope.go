package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/s2"
)

// envelope is the L2 wire format. CreatedAt and TTL let a reader cap its L1 copy
// at the L2 entry's remaining lifetime without an extra PTTL round trip.
type envelope struct {
	Value     json.RawMessage `json:"v"`
	CreatedAt int64           `json:"created_at"` // unix millis
	TTL       int64           `json:"ttl"`        // millis
}

func (e envelope) expiresAt() time.Time {
	return time.UnixMilli(e.CreatedAt + e.TTL)
}

func encodeEnvelope(value []byte, now time.Time, ttl time.Duration) ([]byte, error) {
	raw, err := json.Marshal(envelope{
		Value:     value,
		CreatedAt: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return s2.Encode(nil, raw), nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	raw, err := s2.Decode(nil, data)
	if err != nil {
		return envelope{}, fmt.Errorf("decompress envelope: %w", err)
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return e, nil
}
