package app

import (
	"context"
	"fmt"
	"strconv"

	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/orchestrator"
	ports "octopus/internal/sheets"
)

// Export is the outcome of ExportSummary.
type Export struct {
	Row ports.SummaryRow `json:"row"`
	Ref string           `json:"ref"`
}

// SummaryRow builds the current month's row from the Ready snapshots. The
// budget must be Ready; health columns stay empty when health is not.
func (a *App) SummaryRow() (ports.SummaryRow, error) {
	budget := a.budget.Snapshot()
	if budget.Status != orchestrator.Ready {
		return ports.SummaryRow{}, &core.InvariantViolation{
			Op:     "export summary",
			Reason: fmt.Sprintf("budget is %s, not ready", budget.Status),
		}
	}

	now := a.now()
	agg := budget.Aggregates
	row := ports.SummaryRow{
		Period:               ports.Period(now),
		MonthlyIncome:        agg.MonthlyIncome,
		MonthlySubscriptions: agg.MonthlySubscriptions,
		MonthlyNet:           agg.MonthlyNet,
		AccountsTotal:        agg.AccountsTotal,
		DebtTotal:            agg.DebtTotal,
		CapturedAt:           now.UTC(),
	}
	if health := a.health.Snapshot(); health.Status == orchestrator.Ready {
		if w := health.Aggregates.LatestWeight; w != nil {
			row.LatestWeight = strconv.FormatFloat(*w, 'f', -1, 64)
		}
		row.ActiveGoals = health.Aggregates.ActiveGoals
	}
	return row, nil
}

// ExportSummary writes the current month's row to the summary sheet and
// records the export.
func (a *App) ExportSummary(ctx context.Context) (Export, error) {
	if a.summaries == nil {
		return Export{}, &core.InvariantViolation{Op: "export summary", Reason: "no summary writer configured"}
	}
	row, err := a.SummaryRow()
	if err != nil {
		return Export{}, err
	}

	ref, err := a.summaries.AppendSummary(ctx, row)
	if err != nil {
		a.logger.ErrorContext(ctx, "Summary export failed",
			applog.FieldOperation, applog.OpAppend, "period", row.Period, applog.FieldError, err)
		return Export{}, fmt.Errorf("append summary %s: %w", row.Period, err)
	}
	if a.snapshots != nil {
		if _, err := a.snapshots.RecordExport(ctx, row.Period, ref); err != nil {
			a.logger.WarnContext(ctx, "Failed to record export",
				"period", row.Period, applog.FieldSheetsRef, ref, applog.FieldError, err)
		}
	}
	a.logger.InfoContext(ctx, "Summary exported", "period", row.Period, applog.FieldSheetsRef, ref)
	return Export{Row: row, Ref: ref}, nil
}
