package repository

import (
	"context"

	"octopus/internal/core"
	applog "octopus/internal/log"
)

// Health owns the weight, exercise, meal and goal collections. Every
// response from this backend is wrapped in a {success, data} envelope.
type Health struct {
	transport Transport
	logger    *applog.Logger

	weights   *kind[core.WeightEntry]
	exercises *kind[core.Exercise]
	meals     *kind[core.Meal]
	goals     *kind[core.Goal]
}

func NewHealth(t Transport, logger *applog.Logger) *Health {
	if logger == nil {
		logger = applog.Nop()
	}
	d := core.DomainHealth
	return &Health{
		transport: t,
		logger:    logger,
		weights:   newKind(d, "weight", "/api/health/weight", func(w core.WeightEntry) *int64 { return w.ID }),
		exercises: newKind(d, "exercises", "/api/health/exercises", func(e core.Exercise) *int64 { return e.ID }),
		meals:     newKind(d, "meals", "/api/health/meals", func(m core.Meal) *int64 { return m.ID }),
		goals:     newKind(d, "goals", "/api/health/goals", func(g core.Goal) *int64 { return g.ID }),
	}
}

func (r *Health) Stages() []Stage {
	return []Stage{
		r.weights.stage(r.transport),
		r.exercises.stage(r.transport),
		r.meals.stage(r.transport),
		r.goals.stage(r.transport),
	}
}

func (r *Health) Collections() core.HealthCollections {
	return core.HealthCollections{
		Weights:   r.weights.snapshot(),
		Exercises: r.exercises.snapshot(),
		Meals:     r.meals.snapshot(),
		Goals:     r.goals.snapshot(),
	}
}

func (r *Health) Reset() {
	r.weights.replace(nil)
	r.exercises.replace(nil)
	r.meals.replace(nil)
	r.goals.replace(nil)
}

func (r *Health) ListWeights(ctx context.Context) ([]core.WeightEntry, error) {
	return list(ctx, r.transport, r.weights)
}

func (r *Health) CreateWeight(ctx context.Context, w core.WeightEntry) (core.WeightEntry, error) {
	out, err := create(ctx, r.transport, r.weights, w)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainHealth, r.weights.name, out.ID, err)
	return out, err
}

func (r *Health) DeleteWeight(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.weights, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainHealth, r.weights.name, id, err)
	return err
}

func (r *Health) ListExercises(ctx context.Context) ([]core.Exercise, error) {
	return list(ctx, r.transport, r.exercises)
}

func (r *Health) CreateExercise(ctx context.Context, e core.Exercise) (core.Exercise, error) {
	out, err := create(ctx, r.transport, r.exercises, e)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainHealth, r.exercises.name, out.ID, err)
	return out, err
}

func (r *Health) DeleteExercise(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.exercises, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainHealth, r.exercises.name, id, err)
	return err
}

func (r *Health) ListMeals(ctx context.Context) ([]core.Meal, error) {
	return list(ctx, r.transport, r.meals)
}

func (r *Health) CreateMeal(ctx context.Context, m core.Meal) (core.Meal, error) {
	out, err := create(ctx, r.transport, r.meals, m)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainHealth, r.meals.name, out.ID, err)
	return out, err
}

func (r *Health) DeleteMeal(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.meals, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainHealth, r.meals.name, id, err)
	return err
}

func (r *Health) ListGoals(ctx context.Context) ([]core.Goal, error) {
	return list(ctx, r.transport, r.goals)
}

func (r *Health) CreateGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	out, err := create(ctx, r.transport, r.goals, g)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainHealth, r.goals.name, out.ID, err)
	return out, err
}

func (r *Health) DeleteGoal(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.goals, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainHealth, r.goals.name, id, err)
	return err
}
