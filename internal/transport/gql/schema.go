// Package gql is the GraphQL ingress. Resolvers translate arguments into operations
// for the gateway; errors carry their canonical kind in extensions.code.
package gql

import (
	"context"
	"encoding/json"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/graphql-go/graphql"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

var hitType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Hit",
	Fields: graphql.Fields{
		"id":      &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"score":   &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
		"payload": &graphql.Field{Type: jsonScalar},
	},
})

var searchResultType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SearchResult",
	Fields: graphql.Fields{
		"hits":  &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(hitType)))},
		"cache": &graphql.Field{Type: graphql.String},
	},
})

var writeResultType = graphql.NewObject(graphql.ObjectConfig{
	Name: "WriteResult",
	Fields: graphql.Fields{
		"affected": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

var collectionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Collection",
	Fields: graphql.Fields{
		"name":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"dimension":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"metric":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"boundModel": &graphql.Field{Type: graphql.String},
		"batchLimit": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"revision":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

var circuitType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Circuit",
	Fields: graphql.Fields{
		"backend":             &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"state":               &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"consecutiveFailures": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

var healthType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Health",
	Fields: graphql.Fields{
		"status":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"checks":   &graphql.Field{Type: jsonScalar},
		"circuits": &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(circuitType))},
	},
})

var rangeInput = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "RangeInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"gt":  &graphql.InputObjectFieldConfig{Type: graphql.Float},
		"gte": &graphql.InputObjectFieldConfig{Type: graphql.Float},
		"lt":  &graphql.InputObjectFieldConfig{Type: graphql.Float},
		"lte": &graphql.InputObjectFieldConfig{Type: graphql.Float},
	},
})

var conditionInput = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "ConditionInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"key":   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
		"match": &graphql.InputObjectFieldConfig{Type: graphql.String},
		"range": &graphql.InputObjectFieldConfig{Type: rangeInput},
	},
})

var filterInput = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "FilterInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"must":     &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(conditionInput))},
		"should":   &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(conditionInput))},
		"must_not": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(conditionInput))},
	},
})

var recordInput = graphql.NewInputObject(graphql.InputObjectConfig{
	Name: "RecordInput",
	Fields: graphql.InputObjectConfigFieldMap{
		"id":      &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.ID)},
		"vector":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.Float))},
		"text":    &graphql.InputObjectFieldConfig{Type: graphql.String},
		"payload": &graphql.InputObjectFieldConfig{Type: jsonScalar},
	},
})

// Resolver holds the services behind the schema.
type Resolver struct {
	gateway     Executor
	collections CollectionLister
	health      HealthChecker
}

// NewSchema builds the GraphQL schema over the gateway and admin services.
func NewSchema(gateway Executor, collections CollectionLister, health HealthChecker) (graphql.Schema, error) {
	r := &Resolver{gateway: gateway, collections: collections, health: health}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"search": &graphql.Field{
				Type: graphql.NewNonNull(searchResultType),
				Args: graphql.FieldConfigArgument{
					"collection": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"vector":     &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.Float))},
					"text":       &graphql.ArgumentConfig{Type: graphql.String},
					"embedMode":  &graphql.ArgumentConfig{Type: graphql.String},
					"limit":      &graphql.ArgumentConfig{Type: graphql.Int},
					"filter":     &graphql.ArgumentConfig{Type: filterInput},
				},
				Resolve: r.search,
			},
			"collections": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(collectionType))),
				Resolve: r.listCollections,
			},
			"health": &graphql.Field{
				Type:    graphql.NewNonNull(healthType),
				Resolve: r.checkHealth,
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"upsert": &graphql.Field{
				Type: graphql.NewNonNull(writeResultType),
				Args: graphql.FieldConfigArgument{
					"collection": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"records":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(recordInput)))},
				},
				Resolve: r.upsert,
			},
			"delete": &graphql.Field{
				Type: graphql.NewNonNull(writeResultType),
				Args: graphql.FieldConfigArgument{
					"collection": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"ids":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID)))},
				},
				Resolve: r.delete,
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func (r *Resolver) search(p graphql.ResolveParams) (interface{}, error) {
	collection, _ := p.Args["collection"].(string)
	opts := opOptions(p.Context)

	if text, _ := p.Args["text"].(string); text != "" {
		modeArg, _ := p.Args["embedMode"].(string)
		mode, err := domain.ParseEmbedMode(modeArg)
		if err != nil {
			return nil, wrap(err)
		}
		opts = append(opts, operation.WithText(text, mode))
	}
	if raw, ok := p.Args["filter"]; ok && raw != nil {
		expr, err := buildFilter(raw)
		if err != nil {
			return nil, wrap(err)
		}
		opts = append(opts, operation.WithFilter(expr))
	}
	limit, _ := p.Args["limit"].(int)

	res, err := r.gateway.Execute(p.Context, operation.NewSearch(collection, floats(p.Args["vector"]), limit, opts...))
	if err != nil {
		return nil, wrap(err)
	}
	hits := make([]map[string]interface{}, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = map[string]interface{}{"id": h.ID, "score": h.Score, "payload": h.Payload}
	}
	out := map[string]interface{}{"hits": hits}
	if res.CacheLevel != "" {
		out["cache"] = res.CacheLevel
	}
	return out, nil
}

func (r *Resolver) upsert(p graphql.ResolveParams) (interface{}, error) {
	collection, _ := p.Args["collection"].(string)
	records, err := recordsArg(p.Args["records"])
	if err != nil {
		return nil, wrap(err)
	}
	res, err := r.gateway.Execute(p.Context, operation.NewUpsert(collection, records, opOptions(p.Context)...))
	if err != nil {
		return nil, wrap(err)
	}
	return map[string]interface{}{"affected": res.Affected}, nil
}

func (r *Resolver) delete(p graphql.ResolveParams) (interface{}, error) {
	collection, _ := p.Args["collection"].(string)
	raw, _ := p.Args["ids"].([]interface{})
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	res, err := r.gateway.Execute(p.Context, operation.NewDelete(collection, ids, opOptions(p.Context)...))
	if err != nil {
		return nil, wrap(err)
	}
	return map[string]interface{}{"affected": res.Affected}, nil
}

func (r *Resolver) listCollections(p graphql.ResolveParams) (interface{}, error) {
	cfgs := r.collections.List(p.Context)
	out := make([]map[string]interface{}, len(cfgs))
	for i, c := range cfgs {
		out[i] = map[string]interface{}{
			"name":       c.Name(),
			"dimension":  c.Dimension(),
			"metric":     string(c.Metric()),
			"boundModel": c.BoundModel(),
			"batchLimit": c.BatchLimit(),
			"revision":   c.Revision(),
		}
	}
	return out, nil
}

func (r *Resolver) checkHealth(p graphql.ResolveParams) (interface{}, error) {
	report := r.health.Check(p.Context)
	checks := make(map[string]interface{}, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	circuits := make([]map[string]interface{}, len(report.Circuits))
	for i, c := range report.Circuits {
		circuits[i] = map[string]interface{}{
			"backend":             c.Identity,
			"state":               c.State.String(),
			"consecutiveFailures": int(c.ConsecutiveFailures),
		}
	}
	return map[string]interface{}{"status": string(report.Status), "checks": checks, "circuits": circuits}, nil
}

func opOptions(ctx context.Context) []operation.Option {
	return []operation.Option{
		operation.WithProtocol(operation.GraphQL),
		operation.WithRequestID(chiMiddleware.GetReqID(ctx)),
	}
}

// buildFilter re-decodes the input object into the protocol-neutral spec.
func buildFilter(raw interface{}) (filter.Expression, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return filter.Expression{}, domain.InvalidArgumentf("filter: %v", err)
	}
	var spec filter.Spec
	if err := json.Unmarshal(b, &spec); err != nil {
		return filter.Expression{}, domain.InvalidArgumentf("filter: %v", err)
	}
	expr, err := spec.Build()
	if err != nil {
		return filter.Expression{}, domain.InvalidArgumentf("filter: %v", err)
	}
	return expr, nil
}

func recordsArg(raw interface{}) ([]domain.Record, error) {
	list, _ := raw.([]interface{})
	out := make([]domain.Record, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, domain.InvalidArgumentf("record %d: not an object", i)
		}
		rec := domain.Record{Vector: floats(m["vector"])}
		rec.ID, _ = m["id"].(string)
		rec.Text, _ = m["text"].(string)
		if payload, present := m["payload"]; present && payload != nil {
			obj, ok := payload.(map[string]interface{})
			if !ok {
				return nil, domain.InvalidArgumentf("record %d: payload must be an object, got %T", i, payload)
			}
			rec.Payload = obj
		}
		out = append(out, rec)
	}
	return out, nil
}

func floats(raw interface{}) []float32 {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		case int:
			out = append(out, float32(n))
		}
	}
	return out
}
