package filter

import "fmt"

// Spec is the protocol-neutral JSON shape of an Expression.
// REST bodies, gRPC messages and GraphQL inputs all decode into it.
type Spec struct {
	Must    []ConditionSpec `json:"must,omitempty"`
	Should  []ConditionSpec `json:"should,omitempty"`
	MustNot []ConditionSpec `json:"must_not,omitempty"`
}

// ConditionSpec is either a tag match or a numeric range on Key.
type ConditionSpec struct {
	Key   string     `json:"key"`
	Match string     `json:"match,omitempty"`
	Range *RangeSpec `json:"range,omitempty"`
}

// RangeSpec holds numeric range boundaries.
type RangeSpec struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// Build validates the spec and returns an Expression. A nil spec is an empty expression.
func (s *Spec) Build() (Expression, error) {
	if s == nil {
		return Expression{}, nil
	}
	must, err := buildConditions(s.Must)
	if err != nil {
		return Expression{}, fmt.Errorf("must: %w", err)
	}
	should, err := buildConditions(s.Should)
	if err != nil {
		return Expression{}, fmt.Errorf("should: %w", err)
	}
	mustNot, err := buildConditions(s.MustNot)
	if err != nil {
		return Expression{}, fmt.Errorf("must_not: %w", err)
	}
	return NewExpression(must, should, mustNot)
}

func buildConditions(specs []ConditionSpec) ([]Condition, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]Condition, 0, len(specs))
	for i, cs := range specs {
		c, err := cs.build()
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (cs ConditionSpec) build() (Condition, error) {
	switch {
	case cs.Range != nil && cs.Match != "":
		return Condition{}, fmt.Errorf("key %q: match and range are mutually exclusive", cs.Key)
	case cs.Range != nil:
		r, err := NewRangeFilter(cs.Range.GT, cs.Range.GTE, cs.Range.LT, cs.Range.LTE)
		if err != nil {
			return Condition{}, fmt.Errorf("key %q: %w", cs.Key, err)
		}
		return NewRange(cs.Key, r)
	default:
		return NewMatch(cs.Key, cs.Match)
	}
}
