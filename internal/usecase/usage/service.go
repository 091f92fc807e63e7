package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/vecgate/internal/domain"

	domusage "github.com/kailas-cloud/vecgate/internal/domain/usage"
	"github.com/kailas-cloud/vecgate/internal/domain/usage/budget"
	"github.com/kailas-cloud/vecgate/internal/domain/usage/metrics"
)

// Service reports token usage per model server.
type Service struct {
	sources map[string]BudgetReader
	names   []string
}

// New creates a Service over the configured models.
func New(sources []Source) *Service {
	s := &Service{sources: make(map[string]BudgetReader, len(sources))}
	for _, src := range sources {
		s.sources[src.Model] = src.Budget
		s.names = append(s.names, src.Model)
	}
	sort.Strings(s.names)
	return s
}

// Reports builds one report per model, sorted by model name.
func (s *Service) Reports(ctx context.Context, period domusage.Period) []domusage.Report {
	out := make([]domusage.Report, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, report(name, s.sources[name], period))
	}
	return out
}

// GetReport builds the report of one model.
func (s *Service) GetReport(_ context.Context, model string, period domusage.Period) (domusage.Report, error) {
	br, ok := s.sources[model]
	if !ok {
		return domusage.Report{}, fmt.Errorf("model %q: %w", model, domain.ErrNotFound)
	}
	return report(model, br, period), nil
}

func report(model string, br BudgetReader, period domusage.Period) domusage.Report {
	now := time.Now().UTC()
	var start, end int64
	var limit, used, remaining int64

	switch period {
	case domusage.PeriodDay:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)
		start = dayStart.UnixMilli()
		end = dayEnd.UnixMilli()
		if br != nil {
			limit = br.DailyLimit()
			used = br.DailyUsed()
			remaining = br.RemainingDaily()
		}
	case domusage.PeriodMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)
		start = monthStart.UnixMilli()
		end = monthEnd.UnixMilli()
		if br != nil {
			limit = br.MonthlyLimit()
			used = br.MonthlyUsed()
			remaining = br.RemainingMonthly()
		}
	default:
		// total has no period boundaries
		if br != nil {
			limit = br.MonthlyLimit()
			used = br.MonthlyUsed()
			remaining = br.RemainingMonthly()
		}
	}

	exhausted := limit > 0 && remaining <= 0
	resetsAt := end

	b := budget.New(int(limit), int(remaining), exhausted, resetsAt)
	m := metrics.New(0, int(used), 0) // requests and cost_millidollars not tracked per-period yet

	return domusage.NewReport(period, start, end, model, m, b)
}
