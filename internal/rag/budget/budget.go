// Package budget tracks per-workspace LLM token consumption against
// daily and monthly plan limits. Periods roll over at UTC boundaries.
package budget

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
)

const (
	dayLayout   = "20060102"
	monthLayout = "200601"
)

// Usage holds the consumed token counts of one workspace for the
// current periods.
type Usage struct {
	Daily   int64
	Monthly int64
}

// Store persists per-period token counters. Keys are period-qualified,
// expired periods age out on their own.
type Store interface {
	// Get returns the current usage for both periods.
	Get(ctx context.Context, workspaceID string, now time.Time) (*Usage, error)

	// Add atomically adds tokens to both period counters.
	Add(ctx context.Context, workspaceID string, tokens int64, now time.Time) error

	// Reset clears both period counters.
	Reset(ctx context.Context, workspaceID string, now time.Time) error
}

// Tracker answers budget questions for the orchestrator. Store
// failures are logged and reported as unexhausted budgets so a Redis
// outage never blocks queries.
type Tracker struct {
	store Store
	opts  *quotaopts.Options
}

// NewTracker creates a Tracker over a store.
func NewTracker(store Store, opts *quotaopts.Options) *Tracker {
	return &Tracker{store: store, opts: opts}
}

// Check returns the workspace budget snapshot for the current periods.
func (t *Tracker) Check(ctx context.Context, workspaceID, tier string) *model.TokenBudget {
	now := time.Now().UTC()
	plan := t.opts.LimitsFor(tier)

	budget := &model.TokenBudget{
		WorkspaceID:    workspaceID,
		DailyLimit:     plan.DailyTokenLimit,
		MonthlyLimit:   plan.MonthlyTokenLimit,
		ResetDailyAt:   nextDay(now),
		ResetMonthlyAt: nextMonth(now),
	}

	usage, err := t.store.Get(ctx, workspaceID, now)
	if err != nil {
		logger.Warnw("budget store unavailable, treating budget as available",
			"workspace_id", workspaceID,
			"error", err.Error(),
		)
		return budget
	}

	budget.DailyUsed = usage.Daily
	budget.MonthlyUsed = usage.Monthly
	return budget
}

// Add records consumed tokens against both periods. Errors are logged,
// accounting is best effort.
func (t *Tracker) Add(ctx context.Context, workspaceID string, tokens int64) {
	if tokens <= 0 {
		return
	}
	if err := t.store.Add(ctx, workspaceID, tokens, time.Now().UTC()); err != nil {
		logger.Errorw("failed to record token usage",
			"workspace_id", workspaceID,
			"tokens", tokens,
			"error", err.Error(),
		)
	}
}

// Reset clears the workspace counters for the current periods.
func (t *Tracker) Reset(ctx context.Context, workspaceID string) error {
	return t.store.Reset(ctx, workspaceID, time.Now().UTC())
}

// nextDay is the next UTC midnight after now.
func nextDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// nextMonth is the first UTC midnight of the next month.
func nextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func dayKey(workspaceID string, now time.Time) string {
	return workspaceID + ":" + now.Format(dayLayout)
}

func monthKey(workspaceID string, now time.Time) string {
	return workspaceID + ":" + now.Format(monthLayout)
}
