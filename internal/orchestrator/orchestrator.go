// Package orchestrator runs the reload state machine of one domain:
// Idle, Loading, then Ready or Failed. A reload fetches every collection
// concurrently and installs the results only when all of them succeed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
	"octopus/internal/repository"
)

type Status string

const (
	Idle    Status = "idle"
	Loading Status = "loading"
	Ready   Status = "ready"
	Failed  Status = "failed"
)

// Snapshot is the externally visible state of a domain. Collections and
// Aggregates are populated only when Status is Ready.
type Snapshot[C, A any] struct {
	Domain         core.Domain `json:"domain"`
	Status         Status      `json:"status"`
	Generation     uint64      `json:"generation"`
	Collections    C           `json:"collections"`
	Aggregates     A           `json:"aggregates"`
	Error          string      `json:"error,omitempty"`
	ReauthRequired bool        `json:"reauth_required,omitempty"`
	SettledAt      time.Time   `json:"settled_at,omitzero"`

	// Cause is the failure behind a Failed snapshot.
	Cause error `json:"-"`
}

// Source is a domain repository.
type Source[C any] interface {
	Stages() []repository.Stage
	Collections() C
}

// Observer is called after every settled reload, outside any lock.
type Observer[C, A any] func(ctx context.Context, snap Snapshot[C, A])

type options struct {
	logger        *applog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	authenticated func() bool
}

type Option func(*options)

func WithLogger(l *applog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSession lets a failed reload flag reauth when the session was lost
// during the batch, even if another stage's error settled it first.
func WithSession(authenticated func() bool) Option {
	return func(o *options) { o.authenticated = authenticated }
}

type Orchestrator[C, A any] struct {
	domain    core.Domain
	source    Source[C]
	summarize func(C) A
	logger    *applog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	session   func() bool

	mu         sync.Mutex
	generation uint64
	snap       Snapshot[C, A]
	observers  []Observer[C, A]
}

// New creates an Idle orchestrator. summarize derives the aggregates from
// the collections after each successful reload.
func New[C, A any](domain core.Domain, source Source[C], summarize func(C) A, opts ...Option) *Orchestrator[C, A] {
	o := options{logger: applog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator[C, A]{
		domain:    domain,
		source:    source,
		summarize: summarize,
		logger:    o.logger.WithComponent(applog.ComponentOrchestrator).With(applog.FieldDomain, domain),
		metrics:   o.metrics,
		now:       o.now,
		session:   o.authenticated,
		snap:      Snapshot[C, A]{Domain: domain, Status: Idle},
	}
}

func (o *Orchestrator[C, A]) Domain() core.Domain {
	return o.domain
}

// Snapshot returns the current state.
func (o *Orchestrator[C, A]) Snapshot() Snapshot[C, A] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Observe registers fn for every future settlement.
func (o *Orchestrator[C, A]) Observe(fn Observer[C, A]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// Reset returns to Idle. Reloads still in flight are discarded when they
// settle.
func (o *Orchestrator[C, A]) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	o.snap = Snapshot[C, A]{Domain: o.domain, Status: Idle, Generation: o.generation}
}

// Reload fetches every collection and settles into Ready or Failed. It
// returns core.ErrSuperseded when a newer reload or a Reset started before
// this one settled; its results are then dropped.
func (o *Orchestrator[C, A]) Reload(ctx context.Context) (Snapshot[C, A], error) {
	start := o.now()
	batchID := uuid.NewString()
	gen := o.begin()
	logger := o.logger.With(applog.FieldGeneration, gen, applog.FieldBatchID, batchID)
	logger.DebugContext(ctx, "Reload started")

	stages := o.source.Stages()
	applies := make([]func(), len(stages))
	errs := make([]error, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range stages {
		g.Go(func() error {
			apply, err := st.Fetch(gctx)
			if err != nil {
				errs[i] = err
				return err
			}
			applies[i] = apply
			return nil
		})
	}
	fetchErr := g.Wait()
	reauth := false
	if fetchErr != nil {
		reauth, fetchErr = o.authFailure(fetchErr, errs)
	}

	o.mu.Lock()
	if gen != o.generation {
		current := o.snap
		o.mu.Unlock()
		o.metrics.ObserveReload(string(o.domain), "superseded", o.now().Sub(start))
		logger.DebugContext(ctx, "Reload superseded", applog.FieldStatus, current.Status)
		return current, fmt.Errorf("%s reload %d: %w", o.domain, gen, core.ErrSuperseded)
	}
	if fetchErr != nil {
		o.snap = o.failedLocked(gen, fetchErr, reauth)
	} else {
		for _, apply := range applies {
			apply()
		}
		collections := o.source.Collections()
		o.snap = Snapshot[C, A]{
			Domain:      o.domain,
			Status:      Ready,
			Generation:  gen,
			Collections: collections,
			Aggregates:  o.summarize(collections),
			SettledAt:   o.now(),
		}
	}
	snap := o.snap
	observers := append([]Observer[C, A](nil), o.observers...)
	o.mu.Unlock()

	o.metrics.ObserveReload(string(o.domain), string(snap.Status), o.now().Sub(start))
	if fetchErr != nil {
		logger.WarnContext(ctx, "Reload failed",
			applog.FieldError, fetchErr,
			"reauth_required", snap.ReauthRequired)
	} else {
		logger.InfoContext(ctx, "Reload settled", applog.FieldStatus, snap.Status)
	}
	for _, fn := range observers {
		fn(ctx, snap)
	}
	return snap, fetchErr
}

// Mutate runs op and, when it succeeds, reloads the domain before returning.
// A failing op leaves the state untouched unless it is an auth failure,
// which moves the domain to Failed with reauth required. A failed follow-up
// reload is reported through the returned snapshot, not the error.
func (o *Orchestrator[C, A]) Mutate(ctx context.Context, op func(ctx context.Context) error) (Snapshot[C, A], error) {
	if err := op(ctx); err != nil {
		if core.RequiresReauth(err) {
			o.mu.Lock()
			o.generation++
			o.snap = o.failedLocked(o.generation, err, true)
			o.mu.Unlock()
		}
		return o.Snapshot(), err
	}
	snap, err := o.Reload(ctx)
	if errors.Is(err, core.ErrSuperseded) {
		return o.Snapshot(), nil
	}
	return snap, nil
}

func (o *Orchestrator[C, A]) begin() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	o.snap = Snapshot[C, A]{Domain: o.domain, Status: Loading, Generation: o.generation}
	return o.generation
}

// authFailure looks past the first error of a batch: a sibling stage that
// hit a 401/403, or a session dropped meanwhile, still requires reauth.
func (o *Orchestrator[C, A]) authFailure(first error, errs []error) (bool, error) {
	if core.RequiresReauth(first) {
		return true, first
	}
	for _, err := range errs {
		if core.RequiresReauth(err) {
			return true, errors.Join(first, err)
		}
	}
	if o.session != nil && !o.session() {
		return true, errors.Join(first, core.ErrUnauthenticated)
	}
	return false, first
}

func (o *Orchestrator[C, A]) failedLocked(gen uint64, err error, reauth bool) Snapshot[C, A] {
	return Snapshot[C, A]{
		Domain:         o.domain,
		Status:         Failed,
		Generation:     gen,
		Error:          err.Error(),
		ReauthRequired: reauth,
		SettledAt:      o.now(),
		Cause:          err,
	}
}
