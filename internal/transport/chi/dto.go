package chi

import (
	"time"

	"github.com/kailas-cloud/vecgate/internal/domain"
	dombatch "github.com/kailas-cloud/vecgate/internal/domain/batch"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
	domusage "github.com/kailas-cloud/vecgate/internal/domain/usage"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
)

type searchRequest struct {
	Vector    []float32    `json:"vector,omitempty"`
	Text      string       `json:"text,omitempty"`
	EmbedMode string       `json:"embed_mode,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Filter    *filter.Spec `json:"filter,omitempty"`
}

type searchResponse struct {
	Hits  []domain.ScoredRecord `json:"hits"`
	Cache string                `json:"cache,omitempty"`
}

type recordsRequest struct {
	Records []domain.Record `json:"records"`
}

type writeResponse struct {
	Affected int `json:"affected"`
}

type batchItem struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type batchResponse struct {
	Items     []batchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

type fieldDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type indexHints struct {
	Algorithm      string `json:"algorithm,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
}

type collectionRequest struct {
	Dimension  int               `json:"dimension"`
	Metric     string            `json:"metric"`
	BoundModel string            `json:"bound_model,omitempty"`
	BatchLimit int               `json:"batch_limit,omitempty"`
	Fields     []fieldDefinition `json:"fields,omitempty"`
	Index      *indexHints       `json:"index,omitempty"`
}

type collectionResponse struct {
	Name       string            `json:"name"`
	Dimension  int               `json:"dimension"`
	Metric     string            `json:"metric"`
	BoundModel string            `json:"bound_model,omitempty"`
	BatchLimit int               `json:"batch_limit"`
	Fields     []fieldDefinition `json:"fields,omitempty"`
	Index      indexHints        `json:"index"`
	Revision   int               `json:"revision"`
	CreatedAt  time.Time         `json:"created_at"`
}

type collectionListResponse struct {
	Items []collectionResponse `json:"items"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
	Mode  string   `json:"mode,omitempty"`
}

type embedItem struct {
	Index   int       `json:"index"`
	Status  string    `json:"status"`
	Vector  []float32 `json:"vector,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

type embedResponse struct {
	Model       string      `json:"model"`
	Items       []embedItem `json:"items"`
	TotalTokens int         `json:"total_tokens"`
}

type circuitResponse struct {
	Backend             string     `json:"backend"`
	State               string     `json:"state"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Circuits []circuitResponse `json:"circuits,omitempty"`
}

type usageMetrics struct {
	EmbeddingRequests int  `json:"embedding_requests"`
	Tokens            int  `json:"tokens"`
	CostMillidollars  *int `json:"cost_millidollars,omitempty"`
}

type budgetStatus struct {
	TokensLimit     int        `json:"tokens_limit"`
	TokensRemaining int        `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

type usageResponse struct {
	Model         string       `json:"model"`
	Period        string       `json:"period"`
	PeriodStartAt *time.Time   `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time   `json:"period_end_at,omitempty"`
	Usage         usageMetrics `json:"usage"`
	Budget        budgetStatus `json:"budget"`
}

type usageListResponse struct {
	Items []usageResponse `json:"items"`
}

func configFromRequest(name string, req collectionRequest) (domcol.Config, error) {
	metric, err := domcol.ParseMetric(req.Metric)
	if err != nil {
		return domcol.Config{}, domain.InvalidArgumentf("%v", err)
	}
	opts := []domcol.Option{domcol.WithBoundModel(req.BoundModel)}
	if req.BatchLimit > 0 {
		opts = append(opts, domcol.WithBatchLimit(req.BatchLimit))
	}
	if len(req.Fields) > 0 {
		fields := make([]field.Field, 0, len(req.Fields))
		for _, fd := range req.Fields {
			f, err := field.New(fd.Name, field.Type(fd.Type))
			if err != nil {
				return domcol.Config{}, domain.InvalidArgumentf("field %q: %v", fd.Name, err)
			}
			fields = append(fields, f)
		}
		opts = append(opts, domcol.WithFields(fields...))
	}
	if req.Index != nil {
		opts = append(opts, domcol.WithHints(domcol.IndexHints{
			Algorithm:      domcol.Algorithm(req.Index.Algorithm),
			M:              req.Index.M,
			EfConstruction: req.Index.EfConstruction,
		}))
	}
	cfg, err := domcol.New(name, req.Dimension, metric, opts...)
	if err != nil {
		return domcol.Config{}, domain.InvalidArgumentf("%v", err)
	}
	return cfg, nil
}

func collectionToResponse(c domcol.Config) collectionResponse {
	resp := collectionResponse{
		Name:       c.Name(),
		Dimension:  c.Dimension(),
		Metric:     string(c.Metric()),
		BoundModel: c.BoundModel(),
		BatchLimit: c.BatchLimit(),
		Revision:   c.Revision(),
		CreatedAt:  time.UnixMilli(c.CreatedAt()).UTC(),
	}
	h := c.Hints()
	resp.Index = indexHints{Algorithm: string(h.Algorithm), M: h.M, EfConstruction: h.EfConstruction}
	for _, f := range c.Fields() {
		resp.Fields = append(resp.Fields, fieldDefinition{Name: f.Name(), Type: string(f.FieldType())})
	}
	return resp
}

func batchToResponse(items []dombatch.Result) batchResponse {
	resp := batchResponse{Items: make([]batchItem, len(items))}
	for i, it := range items {
		resp.Items[i] = batchItem{ID: it.ID(), Status: string(it.Status())}
		if it.Err() != nil {
			resp.Items[i].Code = string(it.Kind())
			resp.Items[i].Message = safeMessage(it.Err())
			resp.Failed++
			continue
		}
		resp.Succeeded++
	}
	return resp
}

func embedToResponse(model string, res embedding.Result) embedResponse {
	resp := embedResponse{Model: model, Items: make([]embedItem, len(res.Items)), TotalTokens: res.TotalTokens}
	for i, it := range res.Items {
		item := embedItem{Index: it.Index}
		if it.Err != nil {
			item.Status = string(dombatch.StatusError)
			item.Code = string(domain.KindOf(it.Err))
			item.Message = safeMessage(it.Err)
		} else {
			item.Status = string(dombatch.StatusOK)
			item.Vector = it.Vector
		}
		resp.Items[i] = item
	}
	return resp
}

func healthToResponse(r healthuc.Report) healthResponse {
	resp := healthResponse{Status: string(r.Status), Checks: make(map[string]string, len(r.Checks))}
	for k, v := range r.Checks {
		resp.Checks[k] = string(v)
	}
	for _, c := range r.Circuits {
		cr := circuitResponse{
			Backend:             c.Identity,
			State:               c.State.String(),
			ConsecutiveFailures: c.ConsecutiveFailures,
		}
		if !c.OpenedAt.IsZero() {
			t := c.OpenedAt.UTC()
			cr.OpenedAt = &t
		}
		resp.Circuits = append(resp.Circuits, cr)
	}
	return resp
}

func usageToResponse(report domusage.Report) usageResponse {
	resp := usageResponse{
		Model:  report.Model(),
		Period: string(report.Period()),
		Usage: usageMetrics{
			EmbeddingRequests: report.Metrics().EmbeddingRequests(),
			Tokens:            report.Metrics().Tokens(),
		},
		Budget: budgetStatus{
			TokensLimit:     report.Budget().TokensLimit(),
			TokensRemaining: report.Budget().TokensRemaining(),
			IsExhausted:     report.Budget().IsExhausted(),
		},
	}
	if cost := report.Metrics().CostMillidollars(); cost > 0 {
		resp.Usage.CostMillidollars = &cost
	}
	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC()
		end := time.UnixMilli(report.PeriodEnd()).UTC()
		resp.PeriodStartAt = &start
		resp.PeriodEndAt = &end
	}
	if report.Budget().ResetsAt() > 0 {
		resetsAt := time.UnixMilli(report.Budget().ResetsAt()).UTC()
		resp.Budget.ResetsAt = &resetsAt
	}
	return resp
}
