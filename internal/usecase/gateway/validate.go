package gateway

import (
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// validate checks op against the collection config. It runs before any cache or
// backend access. Batch item dimensions are checked per item later.
func validate(op operation.Operation, cfg collection.Config) error {
	switch op.Kind() {
	case operation.Search:
		return validateSearch(op, cfg)
	case operation.Upsert:
		if err := validateRecords(op.Records(), cfg); err != nil {
			return err
		}
		for _, r := range op.Records() {
			if len(r.Vector) > 0 && len(r.Vector) != cfg.Dimension() {
				return domain.DimensionError(len(r.Vector), cfg.Dimension())
			}
		}
		return nil
	case operation.Batch:
		return validateRecords(op.Records(), cfg)
	case operation.Delete:
		if len(op.IDs()) == 0 {
			return domain.InvalidArgumentf("delete needs at least one id")
		}
		for _, id := range op.IDs() {
			if id == "" {
				return domain.InvalidArgumentf("empty id")
			}
		}
		return nil
	default:
		return domain.InvalidArgumentf("unknown operation kind %q", op.Kind())
	}
}

func validateSearch(op operation.Operation, cfg collection.Config) error {
	switch {
	case len(op.Vector()) > 0:
		if len(op.Vector()) != cfg.Dimension() {
			return domain.DimensionError(len(op.Vector()), cfg.Dimension())
		}
	case op.Text() != "":
		if cfg.BoundModel() == "" {
			return domain.InvalidArgumentf("collection %q has no bound model to embed query text", cfg.Name())
		}
	default:
		return domain.InvalidArgumentf("search needs a vector or text")
	}
	if op.Limit() <= 0 || op.Limit() > cfg.BatchLimit() {
		return domain.InvalidArgumentf("limit must be in (0, %d], got %d", cfg.BatchLimit(), op.Limit())
	}
	return validateFilter(op.Filter(), cfg)
}

func validateRecords(records []domain.Record, cfg collection.Config) error {
	if len(records) == 0 {
		return domain.InvalidArgumentf("no records")
	}
	if len(records) > cfg.BatchLimit() {
		return domain.InvalidArgumentf("%d records exceed the batch limit of %d", len(records), cfg.BatchLimit())
	}
	for i, r := range records {
		if r.ID == "" {
			return domain.InvalidArgumentf("record %d: empty id", i)
		}
		if len(r.Vector) == 0 {
			if r.Text == "" {
				return domain.InvalidArgumentf("record %q: needs a vector or text", r.ID)
			}
			if cfg.BoundModel() == "" {
				return domain.InvalidArgumentf("record %q: collection %q has no bound model to embed text",
					r.ID, cfg.Name())
			}
		}
	}
	return nil
}

// validateFilter rejects filter keys the collection does not declare. Collections
// without declared fields accept any key.
func validateFilter(f filter.Expression, cfg collection.Config) error {
	if f.IsEmpty() || len(cfg.Fields()) == 0 {
		return nil
	}
	groups := [][]filter.Condition{f.Must(), f.Should(), f.MustNot()}
	for _, conds := range groups {
		for _, c := range conds {
			if _, ok := cfg.FieldByName(c.Key()); !ok {
				return domain.InvalidArgumentf("filter field %q is not declared on %q", c.Key(), cfg.Name())
			}
		}
	}
	return nil
}
