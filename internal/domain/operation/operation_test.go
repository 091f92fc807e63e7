package operation

import (
	"testing"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

func TestNewSearch_CopiesVector(t *testing.T) {
	v := []float32{0.1, 0.2, 0.3, 0.4}
	op := NewSearch("docs", v, 1, WithProtocol(REST), WithRequestID("req-1"))

	v[0] = 9
	if op.Vector()[0] != 0.1 {
		t.Errorf("operation shares caller's slice: %v", op.Vector())
	}
	if op.Kind() != Search || op.Collection() != "docs" || op.Limit() != 1 {
		t.Errorf("unexpected op: kind=%s collection=%s limit=%d", op.Kind(), op.Collection(), op.Limit())
	}
	if op.RequestID() != "req-1" || op.Protocol() != REST {
		t.Errorf("metadata lost: id=%q protocol=%q", op.RequestID(), op.Protocol())
	}
}

func TestNewSearch_Defaults(t *testing.T) {
	op := NewSearch("docs", nil, 0, WithText("hello", ""))

	if op.Limit() != DefaultLimit {
		t.Errorf("Limit() = %d, want %d", op.Limit(), DefaultLimit)
	}
	if op.RequestID() == "" {
		t.Error("request id should be generated")
	}
	if op.Protocol() != Internal {
		t.Errorf("Protocol() = %q, want internal", op.Protocol())
	}
	if op.EmbedMode() != domain.EmbedHybrid {
		t.Errorf("EmbedMode() = %q, want hybrid", op.EmbedMode())
	}
	if NewSearch("docs", nil, -3).Limit() != -3 {
		t.Error("negative limit must survive for validation")
	}
}

func TestNewUpsert_DeepCopiesRecords(t *testing.T) {
	recs := []domain.Record{{ID: "1", Vector: []float32{1}, Payload: map[string]any{"k": "v"}}}
	op := NewUpsert("docs", recs)

	recs[0].ID = "changed"
	recs[0].Vector[0] = 2
	recs[0].Payload["k"] = "x"

	got := op.Records()[0]
	if got.ID != "1" || got.Vector[0] != 1 || got.Payload["k"] != "v" {
		t.Errorf("record mutated through caller: %+v", got)
	}
}

func TestNewDelete_CopiesIDs(t *testing.T) {
	ids := []string{"a", "b"}
	op := NewDelete("docs", ids)
	ids[0] = "z"
	if op.IDs()[0] != "a" {
		t.Errorf("IDs() = %v", op.IDs())
	}
}

func TestWithResolvedVector_LeavesOriginal(t *testing.T) {
	op := NewSearch("docs", nil, 5, WithText("q", domain.EmbedRealtime))
	resolved := op.WithResolvedVector([]float32{1, 2})

	if op.Vector() != nil {
		t.Error("original operation gained a vector")
	}
	if len(resolved.Vector()) != 2 || resolved.Text() != "q" {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestKindPredicates(t *testing.T) {
	if Search.IsWrite() || !Upsert.IsWrite() || !Delete.IsWrite() || !Batch.IsWrite() {
		t.Error("IsWrite mismatch")
	}
	if !Search.IsIdempotent() || Upsert.IsIdempotent() || Delete.IsIdempotent() {
		t.Error("IsIdempotent mismatch")
	}
}
