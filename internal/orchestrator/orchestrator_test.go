package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octopus/internal/aggregate"
	"octopus/internal/core"
	"octopus/internal/fakebackend"
	"octopus/internal/repository"
	"octopus/internal/session"
	"octopus/internal/transport"
)

type fixture struct {
	budgetBackend *fakebackend.Backend
	healthBackend *fakebackend.Backend
	store         *session.Store
	budgetRepo    *repository.Budget
	healthRepo    *repository.Health
	budget        *Orchestrator[core.BudgetCollections, aggregate.BudgetSummary]
	health        *Orchestrator[core.HealthCollections, aggregate.HealthSummary]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, h := fakebackend.Pair([]byte("shared"))
	t.Cleanup(b.Close)
	t.Cleanup(h.Close)

	store := session.NewStore(nil, nil)
	store.Set(b.IssueToken("alice", time.Hour), core.DomainBudget)
	client, err := transport.New(b.URL(), h.URL(), store)
	require.NoError(t, err)

	f := &fixture{
		budgetBackend: b,
		healthBackend: h,
		store:         store,
		budgetRepo:    repository.NewBudget(client, nil),
		healthRepo:    repository.NewHealth(client, nil),
	}
	f.budget = New(core.DomainBudget, f.budgetRepo, aggregate.SummarizeBudget)
	f.health = New(core.DomainHealth, f.healthRepo, func(c core.HealthCollections) aggregate.HealthSummary {
		return aggregate.SummarizeHealth(c, "2025-03-10")
	})
	return f
}

func TestReload_Ready(t *testing.T) {
	f := newFixture(t)
	f.budgetBackend.Seed("/api/income", map[string]any{"source": "salary", "amount": 1000, "frequency": "monthly"})
	f.healthBackend.Seed("/api/health/goals", map[string]any{"title": "run", "completed": false})

	assert.Equal(t, Idle, f.budget.Snapshot().Status)

	snap, err := f.budget.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, snap.Status)
	assert.Len(t, snap.Collections.Incomes, 1)
	assert.True(t, snap.Aggregates.MonthlyIncome.Equal(core.MustMoney("1000")))

	hsnap, err := f.health.Reload(context.Background())
	require.NoError(t, err, "budget-issued token authorizes health")
	assert.Equal(t, 1, hsnap.Aggregates.ActiveGoals)
}

func TestReload_FailureLeavesCollectionsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.budgetBackend.Seed("/api/accounts", map[string]any{"name": "checking", "balance": 100})

	_, err := f.budget.Reload(ctx)
	require.NoError(t, err)

	f.budgetBackend.Seed("/api/accounts", map[string]any{"name": "savings", "balance": 50})
	f.budgetBackend.SetFault("/api/debts", fakebackend.Fault{Status: http.StatusInternalServerError})

	snap, err := f.budget.Reload(ctx)
	require.Error(t, err)
	assert.Equal(t, Failed, snap.Status)
	assert.False(t, snap.ReauthRequired)
	assert.NotEmpty(t, snap.Error)
	assert.Nil(t, snap.Collections.Accounts, "failed snapshots carry no collections")

	assert.Len(t, f.budgetRepo.Collections().Accounts, 1, "nothing applied from a failed batch")
}

func TestReload_AuthFailureRequiresReauth(t *testing.T) {
	f := newFixture(t)
	f.healthBackend.SetFault("/api/health/meals", fakebackend.Fault{Status: http.StatusUnauthorized})

	snap, err := f.health.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, snap.Status)
	assert.True(t, snap.ReauthRequired)
	assert.False(t, f.store.Authenticated(), "401 invalidates the session")

	snap, err = f.budget.Reload(context.Background())
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.True(t, snap.ReauthRequired)
}

func TestReload_StagesRunConcurrently(t *testing.T) {
	f := newFixture(t)
	const delay = 200 * time.Millisecond
	for _, path := range fakebackend.BudgetPaths {
		f.budgetBackend.SetFault(path, fakebackend.Fault{Delay: delay})
	}

	start := time.Now()
	snap, err := f.budget.Reload(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, Ready, snap.Status)
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, 2*delay, "four delayed fetches should overlap")
}

// stubSource serves hand-written stages.
type stubSource struct {
	stages []repository.Stage
}

func (s stubSource) Stages() []repository.Stage { return s.stages }

func (s stubSource) Collections() core.BudgetCollections { return core.BudgetCollections{} }

func failingStage(kind string, err error) repository.Stage {
	return repository.Stage{
		Kind: kind,
		Fetch: func(ctx context.Context) (func(), error) {
			return nil, err
		},
	}
}

func TestReload_SiblingAuthFailureRequiresReauth(t *testing.T) {
	serverErr := &core.HTTPError{Domain: core.DomainBudget, Method: http.MethodGet, Path: "/api/debts", StatusCode: http.StatusInternalServerError}
	authErr := &core.HTTPError{Domain: core.DomainBudget, Method: http.MethodGet, Path: "/api/accounts", StatusCode: http.StatusUnauthorized}

	// The 500 settles first; the 401 arrives once the group has already failed.
	src := stubSource{stages: []repository.Stage{
		failingStage("debts", serverErr),
		{Kind: "accounts", Fetch: func(ctx context.Context) (func(), error) {
			<-ctx.Done()
			return nil, authErr
		}},
	}}
	o := New(core.DomainBudget, src, aggregate.SummarizeBudget)

	snap, err := o.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, snap.Status)
	assert.True(t, snap.ReauthRequired)
	assert.True(t, core.RequiresReauth(err))
	assert.ErrorIs(t, snap.Cause, serverErr)
}

func TestReload_LostSessionRequiresReauth(t *testing.T) {
	authenticated := true
	src := stubSource{stages: []repository.Stage{
		failingStage("debts", errors.New("boom")),
	}}
	o := New(core.DomainBudget, src, aggregate.SummarizeBudget, WithSession(func() bool { return authenticated }))

	snap, err := o.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, snap.ReauthRequired)

	authenticated = false
	snap, err = o.Reload(context.Background())
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.True(t, snap.ReauthRequired)
}

func TestReload_SupersededResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.budgetBackend.SetFault("/api/subscriptions", fakebackend.Fault{Delay: 300 * time.Millisecond})

	var (
		wg      sync.WaitGroup
		slowErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = f.budget.Reload(ctx)
	}()
	require.Eventually(t, func() bool {
		return f.budgetBackend.Hits("/api/subscriptions") == 1
	}, time.Second, 5*time.Millisecond)

	f.budgetBackend.SetFault("/api/subscriptions", fakebackend.Fault{})
	f.budgetBackend.Seed("/api/subscriptions", map[string]any{"name": "music", "amount": 10, "frequency": "monthly"})
	fresh, err := f.budget.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, fresh.Status)

	wg.Wait()
	assert.ErrorIs(t, slowErr, core.ErrSuperseded)

	final := f.budget.Snapshot()
	assert.Equal(t, fresh.Generation, final.Generation)
	assert.Len(t, final.Collections.Subscriptions, 1)
}

func TestMutate_CreateThenReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, err := f.budget.Reload(ctx)
	require.NoError(t, err)

	snap, err := f.budget.Mutate(ctx, func(ctx context.Context) error {
		_, err := f.budgetRepo.CreateSubscription(ctx, core.Subscription{
			Name: "paper", Amount: core.MustMoney("120"), Frequency: core.Yearly,
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, Ready, snap.Status)
	require.Len(t, snap.Collections.Subscriptions, 1)
	assert.True(t, core.IsPersisted(snap.Collections.Subscriptions[0].ID))

	delta := snap.Aggregates.MonthlySubscriptions.Sub(before.Aggregates.MonthlySubscriptions)
	assert.True(t, delta.Equal(core.MustMoney("10")), delta.String())
	assert.Greater(t, snap.Generation, before.Generation)
}

func TestMutate_FailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ready, err := f.budget.Reload(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	snap, err := f.budget.Mutate(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ready.Generation, snap.Generation)
	assert.Equal(t, Ready, snap.Status)

	snap, err = f.budget.Mutate(ctx, func(ctx context.Context) error {
		return f.budgetRepo.DeleteDebt(ctx, nil)
	})
	assert.True(t, core.IsInvariantViolation(err))
	assert.Equal(t, Ready, snap.Status)
	assert.Equal(t, 1, f.budgetBackend.Hits("/api/debts"), "only the first reload reached debts")
}

func TestMutate_AuthFailureMovesToFailed(t *testing.T) {
	f := newFixture(t)
	f.store.Clear()

	snap, err := f.health.Mutate(context.Background(), func(ctx context.Context) error {
		_, err := f.healthRepo.CreateMeal(ctx, core.Meal{Date: "2025-03-10", Description: "tea"})
		return err
	})
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.Equal(t, Failed, snap.Status)
	assert.True(t, snap.ReauthRequired)
}

func TestObserveAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen []Status
	f.budget.Observe(func(_ context.Context, s Snapshot[core.BudgetCollections, aggregate.BudgetSummary]) {
		seen = append(seen, s.Status)
	})

	_, err := f.budget.Reload(ctx)
	require.NoError(t, err)
	f.budgetBackend.SetFault("/api/accounts", fakebackend.Fault{Status: http.StatusBadGateway})
	_, err = f.budget.Reload(ctx)
	require.Error(t, err)
	assert.Equal(t, []Status{Ready, Failed}, seen)

	f.budget.Reset()
	snap := f.budget.Snapshot()
	assert.Equal(t, Idle, snap.Status)
	assert.Empty(t, snap.Error)
}
