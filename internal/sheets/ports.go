// Package sheets defines the spreadsheet export ports and the row format of
// the monthly summary sheet.
package sheets

import (
	"context"
	"fmt"
	"time"

	"octopus/internal/core"
)

// SummaryRow is one exported month: the budget aggregates plus the health
// counters captured at export time.
type SummaryRow struct {
	Period               string // YYYY-MM
	MonthlyIncome        core.Money
	MonthlySubscriptions core.Money
	MonthlyNet           core.Money
	AccountsTotal        core.Money
	DebtTotal            core.Money
	LatestWeight         string
	ActiveGoals          int
	CapturedAt           time.Time
}

// Header is the column layout written by every adapter.
var Header = []any{"Period", "Income", "Subscriptions", "Net", "Accounts", "Debt", "Latest weight", "Active goals", "Captured at"}

// Period formats t as the YYYY-MM key of a summary row.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

// Validate checks the period key.
func (r SummaryRow) Validate() error {
	if _, err := time.Parse("2006-01", r.Period); err != nil {
		return fmt.Errorf("invalid period %q: %w", r.Period, err)
	}
	return nil
}

// Values renders the row as spreadsheet cells.
func (r SummaryRow) Values() []any {
	return []any{
		r.Period,
		r.MonthlyIncome.StringFixed(2),
		r.MonthlySubscriptions.StringFixed(2),
		r.MonthlyNet.StringFixed(2),
		r.AccountsTotal.StringFixed(2),
		r.DebtTotal.StringFixed(2),
		r.LatestWeight,
		r.ActiveGoals,
		r.CapturedAt.UTC().Format(time.RFC3339),
	}
}

// Ports for outbound adapters.
type (
	// SummaryWriter upserts the row for a period and returns its reference.
	SummaryWriter interface {
		AppendSummary(ctx context.Context, row SummaryRow) (rowRef string, err error)
	}

	// SummaryLister returns the exported rows in sheet order.
	SummaryLister interface {
		ListSummaries(ctx context.Context) ([]SummaryRow, error)
	}
)
