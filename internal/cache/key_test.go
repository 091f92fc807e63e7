package cache

import (
	"testing"

	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

func mustFilter(t *testing.T, spec *filter.Spec) filter.Expression {
	t.Helper()
	expr, err := spec.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return expr
}

func TestFingerprint_CosineIgnoresMagnitude(t *testing.T) {
	a := Fingerprint(Query{Collection: "docs", Metric: collection.Cosine, Vector: []float32{1, 2, 3, 4}, Limit: 10})
	b := Fingerprint(Query{Collection: "docs", Metric: collection.Cosine, Vector: []float32{2, 4, 6, 8}, Limit: 10})
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("scaled vectors differ: %q vs %q", a.Fingerprint, b.Fingerprint)
	}
	if a.Collection != "docs" {
		t.Errorf("collection = %q", a.Collection)
	}
}

func TestFingerprint_DotKeepsMagnitude(t *testing.T) {
	a := Fingerprint(Query{Collection: "docs", Metric: collection.Dot, Vector: []float32{1, 2}, Limit: 10})
	b := Fingerprint(Query{Collection: "docs", Metric: collection.Dot, Vector: []float32{2, 4}, Limit: 10})
	if a.Fingerprint == b.Fingerprint {
		t.Error("dot product fingerprints must keep magnitude")
	}
}

func TestFingerprint_AbsorbsFloatNoise(t *testing.T) {
	a := Fingerprint(Query{Collection: "docs", Metric: collection.Euclidean, Vector: []float32{0.1234567, 1}, Limit: 5})
	b := Fingerprint(Query{Collection: "docs", Metric: collection.Euclidean, Vector: []float32{0.12345671, 1}, Limit: 5})
	if a.Fingerprint != b.Fingerprint {
		t.Error("float noise below the quantization step changed the fingerprint")
	}
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := Query{Collection: "docs", Metric: collection.Cosine, Vector: []float32{1, 0}, Limit: 10}
	keys := map[string]string{}
	add := func(name string, q Query) {
		fp := Fingerprint(q).Fingerprint
		for prev, other := range keys {
			if other == fp {
				t.Errorf("%s collides with %s", name, prev)
			}
		}
		keys[name] = fp
	}

	add("base", base)
	q := base
	q.Collection = "other"
	add("collection", q)
	q = base
	q.Limit = 11
	add("limit", q)
	q = base
	q.Vector = []float32{0, 1}
	add("vector", q)
	q = base
	q.Filter = mustFilter(t, &filter.Spec{Must: []filter.ConditionSpec{{Key: "lang", Match: "en"}}})
	add("filter", q)
}

func TestFingerprint_FilterOrderInsensitive(t *testing.T) {
	a := mustFilter(t, &filter.Spec{Must: []filter.ConditionSpec{{Key: "lang", Match: "en"}, {Key: "tier", Match: "gold"}}})
	b := mustFilter(t, &filter.Spec{Must: []filter.ConditionSpec{{Key: "tier", Match: "gold"}, {Key: "lang", Match: "en"}}})

	qa := Query{Collection: "docs", Metric: collection.Cosine, Vector: []float32{1, 0}, Filter: a, Limit: 10}
	qb := qa
	qb.Filter = b
	if Fingerprint(qa).Fingerprint != Fingerprint(qb).Fingerprint {
		t.Error("condition order changed the fingerprint")
	}
}

func TestBucket(t *testing.T) {
	if Bucket([]float32{0.1, 0.2, -0.3}) != Bucket([]float32{0.5, 0.9, -0.1}) {
		t.Error("same sign pattern should share a bucket")
	}
	if Bucket([]float32{0.1, 0.2, -0.3}) == Bucket([]float32{-0.1, 0.2, -0.3}) {
		t.Error("different sign pattern should change the bucket")
	}
	if Bucket(nil) != 0 {
		t.Errorf("Bucket(nil) = %v", Bucket(nil))
	}
}
