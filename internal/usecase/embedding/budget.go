package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

// BudgetAction defines behavior when token budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore persists token counters shared by all gateway instances.
// Keys are scoped to a model server identity and a calendar window.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

const budgetPersistTimeout = 2 * time.Second

// budgetPeriod is a UTC calendar window a token limit applies to.
type budgetPeriod int

const (
	periodDay budgetPeriod = iota
	periodMonth
)

func (p budgetPeriod) String() string {
	if p == periodMonth {
		return "monthly"
	}
	return "daily"
}

func (p budgetPeriod) start(t time.Time) time.Time {
	t = t.UTC()
	if p == periodMonth {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (p budgetPeriod) layout() string {
	if p == periodMonth {
		return "2006-01"
	}
	return "2006-01-02"
}

// budgetWindow counts the tokens one identity spent in the current period.
type budgetWindow struct {
	period budgetPeriod
	limit  int64 // 0 = unlimited
	used   int64
	start  time.Time
}

// roll starts a fresh count once now has left the window.
func (w *budgetWindow) roll(now time.Time) {
	if s := w.period.start(now); s.After(w.start) {
		w.start = s
		w.used = 0
	}
}

func (w *budgetWindow) spent() bool { return w.limit > 0 && w.used >= w.limit }

func (w *budgetWindow) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

func (w *budgetWindow) key(identity string) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", domain.KeyPrefix, identity, w.period, w.start.Format(w.period.layout()))
}

// BudgetTracker enforces the daily and monthly token limits of one model
// server identity. Check stays in memory; Record writes behind to the store.
type BudgetTracker struct {
	mu      sync.Mutex
	backend string
	action  BudgetAction
	day     budgetWindow
	month   budgetWindow
	store   BudgetStore
	now     func() time.Time
	logger  *zap.Logger
}

// NewBudgetTracker creates a budget tracker for a model server identity.
// A zero limit means unlimited.
func NewBudgetTracker(
	backend string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	b := &BudgetTracker{
		backend: backend,
		action:  action,
		day:     budgetWindow{period: periodDay, limit: dailyLimit},
		month:   budgetWindow{period: periodMonth, limit: monthlyLimit},
		now:     time.Now,
		logger:  logger.With(zap.String("backend", backend)),
	}
	b.roll()
	return b
}

// WithStore attaches a shared store and seeds the windows from it.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.roll()
	for _, w := range b.windows() {
		used, err := store.Get(ctx, w.key(b.backend))
		if err != nil {
			b.logger.Warn("Failed to load token budget", zap.Stringer("period", w.period), zap.Error(err))
			continue
		}
		w.used = used
	}
	b.logger.Info("Token budget loaded",
		zap.Int64("daily_used", b.day.used),
		zap.Int64("monthly_used", b.month.used),
	)
	return b
}

// Check verifies the identity may issue another request.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()

	for _, w := range b.windows() {
		if !w.spent() {
			continue
		}
		if b.action == BudgetActionReject {
			return fmt.Errorf("%s token budget of %s spent (%d/%d): %w",
				w.period, b.backend, w.used, w.limit, domain.ErrResourceExhausted)
		}
		b.logger.Warn("Token budget exceeded",
			zap.Stringer("period", w.period),
			zap.Int64("used", w.used),
			zap.Int64("limit", w.limit),
		)
	}
	return nil
}

// Record adds consumed tokens to both windows and persists the increments.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}

	b.mu.Lock()
	b.roll()
	keys := make([]string, 0, 2)
	for _, w := range b.windows() {
		w.used += tokens
		keys = append(keys, w.key(b.backend))
	}
	store := b.store
	b.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), budgetPersistTimeout)
	defer cancel()
	for _, key := range keys {
		if err := store.IncrBy(ctx, key, tokens); err != nil {
			b.logger.Warn("Failed to persist token budget", zap.String("key", key), zap.Error(err))
		}
	}
}

// RemainingDaily returns tokens left today (-1 if unlimited).
func (b *BudgetTracker) RemainingDaily() int64 {
	return b.read(func() int64 { return b.day.remaining() })
}

// RemainingMonthly returns tokens left this month (-1 if unlimited).
func (b *BudgetTracker) RemainingMonthly() int64 {
	return b.read(func() int64 { return b.month.remaining() })
}

// DailyUsed returns tokens consumed today.
func (b *BudgetTracker) DailyUsed() int64 {
	return b.read(func() int64 { return b.day.used })
}

// MonthlyUsed returns tokens consumed this month.
func (b *BudgetTracker) MonthlyUsed() int64 {
	return b.read(func() int64 { return b.month.used })
}

// Backend returns the model server identity the budget belongs to.
func (b *BudgetTracker) Backend() string { return b.backend }

// DailyLimit returns the daily token cap.
func (b *BudgetTracker) DailyLimit() int64 { return b.day.limit }

// MonthlyLimit returns the monthly token cap.
func (b *BudgetTracker) MonthlyLimit() int64 { return b.month.limit }

func (b *BudgetTracker) read(f func() int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return f()
}

func (b *BudgetTracker) windows() [2]*budgetWindow {
	return [2]*budgetWindow{&b.day, &b.month}
}

// roll must be called with mu held.
func (b *BudgetTracker) roll() {
	now := b.now()
	b.day.roll(now)
	b.month.roll(now)
}
