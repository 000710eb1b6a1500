package app

import (
	"context"

	"octopus/internal/core"
	"octopus/internal/orchestrator"
)

// mutate runs op through o so a successful mutation is followed by a reload
// of its domain.
func mutate[T, C, A any](ctx context.Context, o *orchestrator.Orchestrator[C, A], op func(context.Context) (T, error)) (T, error) {
	var out T
	_, err := o.Mutate(ctx, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

func remove[C, A any](ctx context.Context, o *orchestrator.Orchestrator[C, A], op func(context.Context, *int64) error, id *int64) error {
	_, err := o.Mutate(ctx, func(ctx context.Context) error { return op(ctx, id) })
	return err
}

func (a *App) CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error) {
	return mutate(ctx, a.budget, func(ctx context.Context) (core.Subscription, error) {
		return a.budgetRepo.CreateSubscription(ctx, s)
	})
}

func (a *App) DeleteSubscription(ctx context.Context, id *int64) error {
	return remove(ctx, a.budget, a.budgetRepo.DeleteSubscription, id)
}

func (a *App) CreateAccount(ctx context.Context, acc core.Account) (core.Account, error) {
	return mutate(ctx, a.budget, func(ctx context.Context) (core.Account, error) {
		return a.budgetRepo.CreateAccount(ctx, acc)
	})
}

func (a *App) DeleteAccount(ctx context.Context, id *int64) error {
	return remove(ctx, a.budget, a.budgetRepo.DeleteAccount, id)
}

func (a *App) CreateIncome(ctx context.Context, i core.Income) (core.Income, error) {
	return mutate(ctx, a.budget, func(ctx context.Context) (core.Income, error) {
		return a.budgetRepo.CreateIncome(ctx, i)
	})
}

func (a *App) DeleteIncome(ctx context.Context, id *int64) error {
	return remove(ctx, a.budget, a.budgetRepo.DeleteIncome, id)
}

func (a *App) CreateDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	return mutate(ctx, a.budget, func(ctx context.Context) (core.Debt, error) {
		return a.budgetRepo.CreateDebt(ctx, d)
	})
}

// UpdateDebt replaces a persisted debt, typically to record a new balance.
func (a *App) UpdateDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	return mutate(ctx, a.budget, func(ctx context.Context) (core.Debt, error) {
		return a.budgetRepo.UpdateDebt(ctx, d)
	})
}

func (a *App) DeleteDebt(ctx context.Context, id *int64) error {
	return remove(ctx, a.budget, a.budgetRepo.DeleteDebt, id)
}

func (a *App) CreateWeight(ctx context.Context, w core.WeightEntry) (core.WeightEntry, error) {
	return mutate(ctx, a.health, func(ctx context.Context) (core.WeightEntry, error) {
		return a.healthRepo.CreateWeight(ctx, w)
	})
}

func (a *App) DeleteWeight(ctx context.Context, id *int64) error {
	return remove(ctx, a.health, a.healthRepo.DeleteWeight, id)
}

func (a *App) CreateExercise(ctx context.Context, e core.Exercise) (core.Exercise, error) {
	return mutate(ctx, a.health, func(ctx context.Context) (core.Exercise, error) {
		return a.healthRepo.CreateExercise(ctx, e)
	})
}

func (a *App) DeleteExercise(ctx context.Context, id *int64) error {
	return remove(ctx, a.health, a.healthRepo.DeleteExercise, id)
}

func (a *App) CreateMeal(ctx context.Context, m core.Meal) (core.Meal, error) {
	return mutate(ctx, a.health, func(ctx context.Context) (core.Meal, error) {
		return a.healthRepo.CreateMeal(ctx, m)
	})
}

func (a *App) DeleteMeal(ctx context.Context, id *int64) error {
	return remove(ctx, a.health, a.healthRepo.DeleteMeal, id)
}

func (a *App) CreateGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	return mutate(ctx, a.health, func(ctx context.Context) (core.Goal, error) {
		return a.healthRepo.CreateGoal(ctx, g)
	})
}

func (a *App) DeleteGoal(ctx context.Context, id *int64) error {
	return remove(ctx, a.health, a.healthRepo.DeleteGoal, id)
}
