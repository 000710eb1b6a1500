// Package aggregate derives the summary numbers shown for each domain. Every
// function is pure and safe on empty collections.
package aggregate

import (
	"github.com/shopspring/decimal"

	"octopus/internal/core"
)

var (
	weeklyFactor   = decimal.RequireFromString("4.33")
	biweeklyFactor = decimal.RequireFromString("2.166667")
	dailyFactor    = decimal.NewFromInt(30)
	monthsPerYear  = decimal.NewFromInt(12)
)

// BudgetSummary holds the monthly-normalized budget totals.
type BudgetSummary struct {
	MonthlyIncome        core.Money `json:"monthly_income"`
	MonthlySubscriptions core.Money `json:"monthly_subscriptions"`
	MonthlyNet           core.Money `json:"monthly_net"`
	AccountsTotal        core.Money `json:"accounts_total"`
	DebtTotal            core.Money `json:"debt_total"`

	IncomeSources     int `json:"income_sources"`
	SubscriptionCount int `json:"subscription_count"`
	AccountCount      int `json:"account_count"`
	DebtCount         int `json:"debt_count"`
}

// HealthSummary holds today's health totals.
type HealthSummary struct {
	Today                string   `json:"today"`
	TodayExerciseMinutes int      `json:"today_exercise_minutes"`
	TodayCalories        int      `json:"today_calories"`
	TodayExercises       int      `json:"today_exercises"`
	TodayMeals           int      `json:"today_meals"`
	TodayWeights         int      `json:"today_weights"`
	LatestWeight         *float64 `json:"latest_weight,omitempty"`
	LatestWeightDate     string   `json:"latest_weight_date,omitempty"`
	ActiveGoals          int      `json:"active_goals"`
	TotalGoals           int      `json:"total_goals"`
}

// DayEntries are the health entries recorded on one calendar date.
type DayEntries struct {
	Date      string             `json:"date"`
	Weights   []core.WeightEntry `json:"weight"`
	Exercises []core.Exercise    `json:"exercises"`
	Meals     []core.Meal        `json:"meals"`
}

// MonthlyEquivalent normalizes amount to a per-month value. Unknown
// frequencies count as monthly.
func MonthlyEquivalent(amount core.Money, f core.Frequency) core.Money {
	switch f.Normalize() {
	case core.Weekly:
		return core.Money{Decimal: amount.Mul(weeklyFactor)}
	case core.Biweekly:
		return core.Money{Decimal: amount.Mul(biweeklyFactor)}
	case core.Daily:
		return core.Money{Decimal: amount.Mul(dailyFactor)}
	case core.Yearly:
		return core.Money{Decimal: amount.Div(monthsPerYear)}
	default:
		return amount
	}
}

// SummarizeBudget computes the budget totals from the collections.
func SummarizeBudget(c core.BudgetCollections) BudgetSummary {
	s := BudgetSummary{
		MonthlyIncome:        core.Zero,
		MonthlySubscriptions: core.Zero,
		AccountsTotal:        core.Zero,
		DebtTotal:            core.Zero,
		IncomeSources:        len(c.Incomes),
		SubscriptionCount:    len(c.Subscriptions),
		AccountCount:         len(c.Accounts),
		DebtCount:            len(c.Debts),
	}
	for _, i := range c.Incomes {
		s.MonthlyIncome = s.MonthlyIncome.Add(MonthlyEquivalent(i.Amount, i.Frequency))
	}
	for _, sub := range c.Subscriptions {
		s.MonthlySubscriptions = s.MonthlySubscriptions.Add(MonthlyEquivalent(sub.Amount, sub.Frequency))
	}
	for _, a := range c.Accounts {
		s.AccountsTotal = s.AccountsTotal.Add(a.Balance)
	}
	for _, d := range c.Debts {
		s.DebtTotal = s.DebtTotal.Add(d.EffectiveBalance())
	}
	s.MonthlyNet = s.MonthlyIncome.Sub(s.MonthlySubscriptions)
	return s
}

// SummarizeHealth computes the totals for today, an ISO date compared by
// string equality with each entry's date.
func SummarizeHealth(c core.HealthCollections, today string) HealthSummary {
	s := HealthSummary{Today: today, TotalGoals: len(c.Goals)}

	for _, e := range c.Exercises {
		if e.Date != today {
			continue
		}
		s.TodayExercises++
		s.TodayExerciseMinutes += e.DurationMinutes
	}
	for _, m := range c.Meals {
		if m.Date != today {
			continue
		}
		s.TodayMeals++
		if m.Calories != nil {
			s.TodayCalories += *m.Calories
		}
	}

	var latest *core.WeightEntry
	for i, w := range c.Weights {
		if w.Date == today {
			s.TodayWeights++
		}
		// ties keep the first entry
		if latest == nil || w.Date > latest.Date {
			latest = &c.Weights[i]
		}
	}
	if latest != nil {
		weight := latest.Weight
		s.LatestWeight = &weight
		s.LatestWeightDate = latest.Date
	}

	for _, g := range c.Goals {
		if !g.Completed {
			s.ActiveGoals++
		}
	}
	return s
}

// TodayEntries returns the entries of each health collection dated today.
func TodayEntries(c core.HealthCollections, today string) DayEntries {
	return DayEntries{
		Date:      today,
		Weights:   filterDate(c.Weights, today, func(w core.WeightEntry) string { return w.Date }),
		Exercises: filterDate(c.Exercises, today, func(e core.Exercise) string { return e.Date }),
		Meals:     filterDate(c.Meals, today, func(m core.Meal) string { return m.Date }),
	}
}

func filterDate[T any](items []T, day string, date func(T) string) []T {
	out := []T{}
	for _, it := range items {
		if date(it) == day {
			out = append(out, it)
		}
	}
	return out
}
