package qdrant

import (
	"maps"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

func toPayload(r domain.Record) (map[string]*qdrant.Value, error) {
	m := make(map[string]any, len(r.Payload)+1)
	maps.Copy(m, r.Payload)
	m[vectorstore.PayloadIDKey] = r.ID
	payload, err := qdrant.TryValueMap(m)
	if err != nil {
		return nil, domain.InvalidArgumentf("record %q payload: %v", r.ID, err)
	}
	return payload, nil
}

func toScored(p *qdrant.ScoredPoint) domain.ScoredRecord {
	rec := domain.ScoredRecord{Score: float64(p.GetScore())}
	if len(p.GetPayload()) > 0 {
		rec.Payload = make(map[string]any, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			if k == vectorstore.PayloadIDKey {
				rec.ID = v.GetStringValue()
				continue
			}
			rec.Payload[k] = fromValue(v)
		}
		if len(rec.Payload) == 0 {
			rec.Payload = nil
		}
	}
	if rec.ID == "" {
		rec.ID = pointIDString(p.GetId())
	}
	return rec
}

func pointIDString(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, item := range fields {
			out[name] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

func toFilter(e filter.Expression) *qdrant.Filter {
	if e.IsEmpty() {
		return nil
	}
	return &qdrant.Filter{
		Must:    toConditions(e.Must()),
		Should:  toConditions(e.Should()),
		MustNot: toConditions(e.MustNot()),
	}
}

func toConditions(conds []filter.Condition) []*qdrant.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		switch {
		case c.IsMatch():
			out = append(out, qdrant.NewMatch(c.Key(), c.Match()))
		case c.IsRange():
			r := c.Range()
			out = append(out, qdrant.NewRange(c.Key(), &qdrant.Range{
				Gt:  r.GT(),
				Gte: r.GTE(),
				Lt:  r.LT(),
				Lte: r.LTE(),
			}))
		}
	}
	return out
}
