package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// Key addresses one cached search result. Get stamps the key with the generations
// it observed; Put with a stamped key never lands in a newer generation.
type Key struct {
	Collection  string
	Fingerprint string

	stamped bool
	l1Gen   uint64
	l2Gen   int64
	l2OK    bool
}

// FlightKey identifies identical lookups that observed the same generations.
// Lookups made after an invalidation never share a flight with earlier ones.
func (k Key) FlightKey() string {
	return k.Collection + "/" + k.Fingerprint + "/" +
		strconv.FormatUint(k.l1Gen, 10) + "/" + strconv.FormatInt(k.l2Gen, 10)
}

// Query is the part of a search that determines its result.
type Query struct {
	Collection string
	Metric     collection.Metric
	Vector     []float32
	Filter     filter.Expression
	Limit      int
}

// fingerprintPrecision is the number of significant decimal digits kept per component,
// so float noise from different clients maps to the same key.
const fingerprintPrecision = 6

// Fingerprint returns the cache key of q. Cosine vectors are normalized first:
// parallel vectors rank identically, so they share an entry.
func Fingerprint(q Query) Key {
	h := sha256.New()
	writeString(h, q.Collection)
	writeString(h, string(q.Metric))

	vec := q.Vector
	if q.Metric == collection.Cosine {
		vec = normalize(vec)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(vec)))
	h.Write(buf[:])
	for _, f := range vec {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(round(float64(f))))
		h.Write(buf[:])
	}

	writeString(h, q.Filter.Canonical())
	writeString(h, strconv.Itoa(q.Limit))

	return Key{Collection: q.Collection, Fingerprint: hex.EncodeToString(h.Sum(nil))}
}

// Bucket hashes the sign pattern of v into 64 bits. Nearby queries share a bucket,
// which is what the warmer counts.
func Bucket(v []float32) uint64 {
	var b uint64
	for i, f := range v {
		if f > 0 {
			b ^= 1 << (uint(i) % 64)
		}
	}
	return b
}

type byteWriter interface{ Write(p []byte) (int, error) }

func writeString(w byteWriter, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	_, _ = w.Write(n[:])
	_, _ = w.Write([]byte(s))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func round(f float64) float64 {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	exp := math.Floor(math.Log10(math.Abs(f)))
	scale := math.Pow(10, fingerprintPrecision-1-exp)
	return math.Round(f*scale) / scale
}
