// Package app is the facade the presentation layers talk to. It owns the
// session, both repositories and both orchestrators, and turns user intents
// into calls on them.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"octopus/internal/aggregate"
	"octopus/internal/amqp"
	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
	"octopus/internal/orchestrator"
	"octopus/internal/repository"
	"octopus/internal/session"
	ports "octopus/internal/sheets"
	"octopus/internal/storage"
	"octopus/internal/transport"
)

type (
	BudgetSnapshot = orchestrator.Snapshot[core.BudgetCollections, aggregate.BudgetSummary]
	HealthSnapshot = orchestrator.Snapshot[core.HealthCollections, aggregate.HealthSummary]
)

// EventPublisher announces settled reloads.
type EventPublisher interface {
	PublishSnapshot(ctx context.Context, event *amqp.SnapshotEvent) error
}

// Options wires the facade. Only the base URLs are required.
type Options struct {
	BudgetBaseURL string
	HealthBaseURL string
	HTTPTimeout   time.Duration
	HTTPClient    *http.Client

	Logger    *applog.Logger
	Metrics   *metrics.Metrics
	Snapshots *storage.SnapshotStore
	Events    EventPublisher
	Summaries ports.SummaryWriter

	// Now defaults to time.Now; it decides "today" for health aggregates and
	// the export period.
	Now func() time.Time
}

type App struct {
	logger    *applog.Logger
	metrics   *metrics.Metrics
	snapshots *storage.SnapshotStore
	events    EventPublisher
	summaries ports.SummaryWriter
	now       func() time.Time

	store     *session.Store
	sessions  *session.Manager
	transport *transport.Client

	budgetRepo *repository.Budget
	healthRepo *repository.Health
	budget     *orchestrator.Orchestrator[core.BudgetCollections, aggregate.BudgetSummary]
	health     *orchestrator.Orchestrator[core.HealthCollections, aggregate.HealthSummary]
}

func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := session.NewStore(logger.WithComponent(applog.ComponentSession), opts.Metrics)
	topts := []transport.Option{
		transport.WithLogger(logger.WithComponent(applog.ComponentTransport)),
		transport.WithMetrics(opts.Metrics),
	}
	if opts.HTTPClient != nil {
		topts = append(topts, transport.WithHTTPClient(opts.HTTPClient))
	}
	if opts.HTTPTimeout > 0 {
		topts = append(topts, transport.WithTimeout(opts.HTTPTimeout))
	}
	client, err := transport.New(opts.BudgetBaseURL, opts.HealthBaseURL, store, topts...)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	repoLogger := logger.WithComponent(applog.ComponentRepository)
	a := &App{
		logger:     logger.WithComponent(applog.ComponentApp),
		metrics:    opts.Metrics,
		snapshots:  opts.Snapshots,
		events:     opts.Events,
		summaries:  opts.Summaries,
		now:        now,
		store:      store,
		sessions:   session.NewManager(client, store, logger.WithComponent(applog.ComponentSession)),
		transport:  client,
		budgetRepo: repository.NewBudget(client, repoLogger),
		healthRepo: repository.NewHealth(client, repoLogger),
	}

	oopts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(opts.Metrics),
		orchestrator.WithSession(store.Authenticated),
	}
	a.budget = orchestrator.New(core.DomainBudget, a.budgetRepo, aggregate.SummarizeBudget, oopts...)
	a.health = orchestrator.New(core.DomainHealth, a.healthRepo, func(c core.HealthCollections) aggregate.HealthSummary {
		return aggregate.SummarizeHealth(c, core.Today(a.now()))
	}, oopts...)

	a.budget.Observe(func(ctx context.Context, s BudgetSnapshot) {
		a.settled(ctx, core.DomainBudget, s.Status, s.Generation, s, budgetCounts(s.Collections), s.Aggregates, s.Error)
	})
	a.health.Observe(func(ctx context.Context, s HealthSnapshot) {
		a.settled(ctx, core.DomainHealth, s.Status, s.Generation, s, healthCounts(s.Collections), s.Aggregates, s.Error)
	})
	return a, nil
}

// Session describes the current session.
func (a *App) Session() session.Info {
	return a.store.Info()
}

// Login authenticates against backend and then reloads both domains. Reload
// failures are reported through the snapshots, not the returned error.
func (a *App) Login(ctx context.Context, username, password string, backend core.Domain) error {
	if _, err := a.sessions.Login(ctx, username, password, backend); err != nil {
		return err
	}
	if err := a.ReloadAll(ctx); err != nil {
		a.logger.WarnContext(ctx, "Initial reload after login failed", applog.FieldError, err)
	}
	return nil
}

// Register creates an account without logging in.
func (a *App) Register(ctx context.Context, username, password string, backend core.Domain) (session.Confirmation, error) {
	return a.sessions.Register(ctx, username, password, backend)
}

// Logout drops the token and returns both domains to Idle with empty
// collections.
func (a *App) Logout(ctx context.Context) {
	a.sessions.Logout()
	a.budget.Reset()
	a.health.Reset()
	a.budgetRepo.Reset()
	a.healthRepo.Reset()
	a.logger.InfoContext(ctx, "Session cleared", applog.FieldOperation, applog.OpLogout)
}

func (a *App) Budget() BudgetSnapshot { return a.budget.Snapshot() }

func (a *App) Health() HealthSnapshot { return a.health.Snapshot() }

func (a *App) ReloadBudget(ctx context.Context) (BudgetSnapshot, error) {
	return a.budget.Reload(ctx)
}

func (a *App) ReloadHealth(ctx context.Context) (HealthSnapshot, error) {
	return a.health.Reload(ctx)
}

// Reload reloads one domain.
func (a *App) Reload(ctx context.Context, domain core.Domain) error {
	switch domain {
	case core.DomainBudget:
		_, err := a.ReloadBudget(ctx)
		return err
	case core.DomainHealth:
		_, err := a.ReloadHealth(ctx)
		return err
	default:
		return &core.InvariantViolation{Op: "reload", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}
}

// ReloadAll reloads both domains concurrently and joins their errors.
func (a *App) ReloadAll(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		budgetErr error
		healthErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, budgetErr = a.budget.Reload(ctx)
	}()
	go func() {
		defer wg.Done()
		_, healthErr = a.health.Reload(ctx)
	}()
	wg.Wait()
	return errors.Join(budgetErr, healthErr)
}

// ReauthRequired reports whether either domain failed on an auth error.
func (a *App) ReauthRequired() bool {
	return a.budget.Snapshot().ReauthRequired || a.health.Snapshot().ReauthRequired
}

// LastKnownBudget returns the last persisted Ready budget snapshot.
func (a *App) LastKnownBudget(ctx context.Context) (BudgetSnapshot, error) {
	var snap BudgetSnapshot
	err := a.lastKnown(ctx, core.DomainBudget, &snap)
	return snap, err
}

// LastKnownHealth returns the last persisted Ready health snapshot.
func (a *App) LastKnownHealth(ctx context.Context) (HealthSnapshot, error) {
	var snap HealthSnapshot
	err := a.lastKnown(ctx, core.DomainHealth, &snap)
	return snap, err
}

func (a *App) lastKnown(ctx context.Context, domain core.Domain, out any) error {
	if a.snapshots == nil {
		return fmt.Errorf("last known %s: %w", domain, storage.ErrNotFound)
	}
	rec, err := a.snapshots.Load(ctx, domain)
	if err != nil {
		return fmt.Errorf("last known %s: %w", domain, err)
	}
	return rec.Decode(out)
}

// settled persists Ready snapshots and publishes an event for every
// settlement. Failures here are logged and never surface to the caller.
func (a *App) settled(ctx context.Context, domain core.Domain, status orchestrator.Status, gen uint64, snap any, counts map[string]int, aggregates any, errMsg string) {
	if status == orchestrator.Ready && a.snapshots != nil {
		if err := a.snapshots.Save(ctx, domain, gen, snap); err != nil {
			a.logger.WarnContext(ctx, "Failed to persist snapshot",
				applog.FieldDomain, domain, applog.FieldGeneration, gen, applog.FieldError, err)
		}
	}
	if a.events == nil {
		return
	}

	event := amqp.NewSnapshotEvent(domain, string(status), gen)
	event.Error = errMsg
	if status == orchestrator.Ready {
		event.Counts = counts
		if raw, err := json.Marshal(aggregates); err == nil {
			event.Aggregates = raw
		}
	}
	if err := a.events.PublishSnapshot(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "Failed to publish snapshot event", applog.FieldOperation, applog.OpPublish,
			applog.FieldDomain, domain, applog.FieldEventID, event.EventID, applog.FieldError, err)
	}
}

func budgetCounts(c core.BudgetCollections) map[string]int {
	return map[string]int{
		"subscriptions": len(c.Subscriptions),
		"accounts":      len(c.Accounts),
		"income":        len(c.Incomes),
		"debts":         len(c.Debts),
	}
}

func healthCounts(c core.HealthCollections) map[string]int {
	return map[string]int{
		"weight":    len(c.Weights),
		"exercises": len(c.Exercises),
		"meals":     len(c.Meals),
		"goals":     len(c.Goals),
	}
}
