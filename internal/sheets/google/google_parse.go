package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"octopus/internal/core"
	ports "octopus/internal/sheets"
)

// findPeriodRow returns the 1-based sheet row whose first cell equals period.
func findPeriodRow(values [][]any, period string) (int, bool) {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == period {
			return i + 1, true
		}
	}
	return 0, false
}

// parseRow converts a values row back into a SummaryRow. Amounts may come
// back formatted by the sheet ("1,234.50"), so separators are stripped.
func parseRow(cells []any) (ports.SummaryRow, error) {
	cols := toStrings(cells)
	var row ports.SummaryRow
	row.Period = safeGet(cols, 0)
	if err := row.Validate(); err != nil {
		return ports.SummaryRow{}, err
	}

	amounts := []*core.Money{&row.MonthlyIncome, &row.MonthlySubscriptions, &row.MonthlyNet, &row.AccountsTotal, &row.DebtTotal}
	for i, dst := range amounts {
		raw := safeGet(cols, i+1)
		if raw == "" {
			*dst = core.Zero
			continue
		}
		m, err := core.MoneyFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			return ports.SummaryRow{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		*dst = m
	}

	row.LatestWeight = safeGet(cols, 6)
	if v := safeGet(cols, 7); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ports.SummaryRow{}, fmt.Errorf("active goals %q: %w", v, err)
		}
		row.ActiveGoals = n
	}
	if v := safeGet(cols, 8); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			row.CapturedAt = ts
		}
	}
	return row, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}
