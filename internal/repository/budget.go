package repository

import (
	"context"

	"octopus/internal/core"
	applog "octopus/internal/log"
)

// Budget owns the subscription, account, income and debt collections.
type Budget struct {
	transport Transport
	logger    *applog.Logger

	subscriptions *kind[core.Subscription]
	accounts      *kind[core.Account]
	incomes       *kind[core.Income]
	debts         *kind[core.Debt]
}

func NewBudget(t Transport, logger *applog.Logger) *Budget {
	if logger == nil {
		logger = applog.Nop()
	}
	d := core.DomainBudget
	return &Budget{
		transport:     t,
		logger:        logger,
		subscriptions: newKind(d, "subscriptions", "/api/subscriptions", func(s core.Subscription) *int64 { return s.ID }),
		accounts:      newKind(d, "accounts", "/api/accounts", func(a core.Account) *int64 { return a.ID }),
		incomes:       newKind(d, "income", "/api/income", func(i core.Income) *int64 { return i.ID }),
		debts:         newKind(d, "debts", "/api/debts", func(x core.Debt) *int64 { return x.ID }),
	}
}

// Stages returns one fetch stage per collection.
func (r *Budget) Stages() []Stage {
	return []Stage{
		r.subscriptions.stage(r.transport),
		r.accounts.stage(r.transport),
		r.incomes.stage(r.transport),
		r.debts.stage(r.transport),
	}
}

// Collections returns a copy of every collection.
func (r *Budget) Collections() core.BudgetCollections {
	return core.BudgetCollections{
		Subscriptions: r.subscriptions.snapshot(),
		Accounts:      r.accounts.snapshot(),
		Incomes:       r.incomes.snapshot(),
		Debts:         r.debts.snapshot(),
	}
}

// Reset empties every collection.
func (r *Budget) Reset() {
	r.subscriptions.replace(nil)
	r.accounts.replace(nil)
	r.incomes.replace(nil)
	r.debts.replace(nil)
}

func (r *Budget) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	return list(ctx, r.transport, r.subscriptions)
}

func (r *Budget) CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error) {
	out, err := create(ctx, r.transport, r.subscriptions, s)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainBudget, r.subscriptions.name, out.ID, err)
	return out, err
}

func (r *Budget) DeleteSubscription(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.subscriptions, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainBudget, r.subscriptions.name, id, err)
	return err
}

func (r *Budget) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return list(ctx, r.transport, r.accounts)
}

func (r *Budget) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	out, err := create(ctx, r.transport, r.accounts, a)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainBudget, r.accounts.name, out.ID, err)
	return out, err
}

func (r *Budget) DeleteAccount(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.accounts, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainBudget, r.accounts.name, id, err)
	return err
}

func (r *Budget) ListIncome(ctx context.Context) ([]core.Income, error) {
	return list(ctx, r.transport, r.incomes)
}

func (r *Budget) CreateIncome(ctx context.Context, i core.Income) (core.Income, error) {
	out, err := create(ctx, r.transport, r.incomes, i)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainBudget, r.incomes.name, out.ID, err)
	return out, err
}

func (r *Budget) DeleteIncome(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.incomes, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainBudget, r.incomes.name, id, err)
	return err
}

func (r *Budget) ListDebts(ctx context.Context) ([]core.Debt, error) {
	return list(ctx, r.transport, r.debts)
}

func (r *Budget) CreateDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	out, err := create(ctx, r.transport, r.debts, d)
	logMutation(ctx, r.logger, applog.OpCreate, core.DomainBudget, r.debts.name, out.ID, err)
	return out, err
}

// UpdateDebt replaces a persisted debt.
func (r *Budget) UpdateDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	out, err := update(ctx, r.transport, r.debts, d)
	logMutation(ctx, r.logger, applog.OpUpdate, core.DomainBudget, r.debts.name, d.ID, err)
	return out, err
}

func (r *Budget) DeleteDebt(ctx context.Context, id *int64) error {
	err := remove(ctx, r.transport, r.debts, id)
	logMutation(ctx, r.logger, applog.OpDelete, core.DomainBudget, r.debts.name, id, err)
	return err
}
