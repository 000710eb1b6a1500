package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octopus/internal/core"
)

func money(s string) core.Money { return core.MustMoney(s) }

func intPtr(n int) *int { return &n }

func TestMonthlyEquivalent(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		freq   core.Frequency
		want   string
	}{
		{"weekly", "100", core.Weekly, "433"},
		{"biweekly", "100", core.Biweekly, "216.6667"},
		{"daily", "2", core.Daily, "60"},
		{"monthly", "42.5", core.Monthly, "42.5"},
		{"unknown counts as monthly", "42.5", "quarterly", "42.5"},
		{"case and whitespace", "100", " WEEKLY ", "433"},
		{"empty frequency", "7", "", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonthlyEquivalent(money(tt.amount), tt.freq)
			assert.True(t, got.Equal(money(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestMonthlyEquivalent_Yearly(t *testing.T) {
	got := MonthlyEquivalent(money("10"), core.Yearly)
	assert.InDelta(t, 0.8333, got.InexactFloat64(), 0.0001)

	got = MonthlyEquivalent(money("1200"), core.Yearly)
	assert.True(t, got.Equal(money("100")))
}

func TestSummarizeBudget(t *testing.T) {
	bal := money("300")
	c := core.BudgetCollections{
		Subscriptions: []core.Subscription{
			{Name: "gym", Amount: money("30"), Frequency: core.Monthly},
			{Name: "domain", Amount: money("120"), Frequency: core.Yearly},
		},
		Accounts: []core.Account{
			{Name: "checking", Balance: money("1000")},
			{Name: "credit", Balance: money("-250.5")},
		},
		Incomes: []core.Income{
			{Source: "salary", Amount: money("2000"), Frequency: core.Monthly},
			{Source: "gig", Amount: money("100"), Frequency: core.Weekly},
		},
		Debts: []core.Debt{
			{Name: "car", Amount: money("5000"), Balance: &bal},
			{Name: "friend", Amount: money("50")},
		},
	}

	s := SummarizeBudget(c)
	assert.True(t, s.MonthlyIncome.Equal(money("2433")), s.MonthlyIncome.String())
	assert.True(t, s.MonthlySubscriptions.Equal(money("40")), s.MonthlySubscriptions.String())
	assert.True(t, s.MonthlyNet.Equal(money("2393")), s.MonthlyNet.String())
	assert.True(t, s.AccountsTotal.Equal(money("749.5")), s.AccountsTotal.String())
	assert.True(t, s.DebtTotal.Equal(money("350")), s.DebtTotal.String())
	assert.Equal(t, 2, s.IncomeSources)
	assert.Equal(t, 2, s.SubscriptionCount)
	assert.Equal(t, 2, s.AccountCount)
	assert.Equal(t, 2, s.DebtCount)
}

func TestSummarizeBudget_Empty(t *testing.T) {
	s := SummarizeBudget(core.BudgetCollections{})
	assert.True(t, s.MonthlyIncome.IsZero())
	assert.True(t, s.MonthlyNet.IsZero())
	assert.True(t, s.DebtTotal.IsZero())
	assert.Zero(t, s.DebtCount)
}

func TestSummarizeHealth(t *testing.T) {
	today := "2025-03-10"
	c := core.HealthCollections{
		Weights: []core.WeightEntry{
			{Date: "2025-03-09", Weight: 80},
			{Date: today, Weight: 79.5},
			{Date: today, Weight: 79.9},
		},
		Exercises: []core.Exercise{
			{Date: today, ExerciseType: "run", DurationMinutes: 30},
			{Date: today, ExerciseType: "yoga", DurationMinutes: 20},
			{Date: "2025-03-09", ExerciseType: "swim", DurationMinutes: 45},
		},
		Meals: []core.Meal{
			{Date: today, Description: "oats", Calories: intPtr(350)},
			{Date: today, Description: "coffee"},
			{Date: "2025-03-09", Description: "pizza", Calories: intPtr(900)},
		},
		Goals: []core.Goal{
			{Title: "run 10k", Completed: false},
			{Title: "sleep 8h", Completed: true},
			{Description: "drink water"},
		},
	}

	s := SummarizeHealth(c, today)
	assert.Equal(t, today, s.Today)
	assert.Equal(t, 50, s.TodayExerciseMinutes)
	assert.Equal(t, 350, s.TodayCalories)
	assert.Equal(t, 2, s.TodayExercises)
	assert.Equal(t, 2, s.TodayMeals)
	assert.Equal(t, 2, s.TodayWeights)
	require.NotNil(t, s.LatestWeight)
	assert.Equal(t, 79.5, *s.LatestWeight, "first entry wins a date tie")
	assert.Equal(t, today, s.LatestWeightDate)
	assert.Equal(t, 2, s.ActiveGoals)
	assert.Equal(t, 3, s.TotalGoals)
}

func TestSummarizeHealth_Empty(t *testing.T) {
	s := SummarizeHealth(core.HealthCollections{}, "2025-01-01")
	assert.Nil(t, s.LatestWeight)
	assert.Zero(t, s.TodayCalories)
	assert.Zero(t, s.ActiveGoals)
}

func TestTodayEntries(t *testing.T) {
	today := "2025-03-10"
	c := core.HealthCollections{
		Weights:   []core.WeightEntry{{Date: today, Weight: 70}, {Date: "2025-03-11", Weight: 71}},
		Exercises: []core.Exercise{{Date: "2025-03-09", ExerciseType: "run"}},
		Meals:     []core.Meal{{Date: today, Description: "soup"}},
	}

	d := TodayEntries(c, today)
	assert.Len(t, d.Weights, 1)
	assert.NotNil(t, d.Exercises)
	assert.Empty(t, d.Exercises)
	require.Len(t, d.Meals, 1)
	assert.Equal(t, "soup", d.Meals[0].Description)
}
