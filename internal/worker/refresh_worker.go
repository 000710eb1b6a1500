// Package worker keeps both domains fresh in the background: a scheduled
// reload every interval plus reloads requested over AMQP.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"octopus/internal/amqp"
	"octopus/internal/core"
	applog "octopus/internal/log"
)

// Reloader is the part of the application facade the worker drives.
type Reloader interface {
	ReloadAll(ctx context.Context) error
	Reload(ctx context.Context, domain core.Domain) error
	ReauthRequired() bool
}

// ReloadConsumer delivers reload requests until ctx is done.
type ReloadConsumer interface {
	ConsumeReloadRequests(ctx context.Context, handler amqp.ReloadHandler) error
}

// Config holds the refresh worker configuration
type Config struct {
	// Interval between scheduled reloads (default: 5m)
	Interval time.Duration

	// ReloadOnStart runs one reload as soon as the worker starts (default: true)
	ReloadOnStart bool
}

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		ReloadOnStart: true,
	}
}

// RefreshWorker schedules reloads. Once a reload ends in an auth failure the
// schedule pauses; the worker never retries authentication by itself.
type RefreshWorker struct {
	app      Reloader
	consumer ReloadConsumer
	config   Config
	logger   *applog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	paused  bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewRefreshWorker creates a worker. consumer may be nil when AMQP is not
// configured.
func NewRefreshWorker(app Reloader, consumer ReloadConsumer, config Config, logger *applog.Logger) *RefreshWorker {
	if logger == nil {
		logger = applog.Nop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &RefreshWorker{
		app:      app,
		consumer: consumer,
		config:   config,
		logger:   logger.WithComponent(applog.ComponentWorker),
	}
}

// Start begins the schedule and, when configured, the AMQP consumer.
// Returns an error if already running.
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.paused = false
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runLoop(runCtx)
	}()
	if w.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(runCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	w.logger.InfoContext(ctx, "Refresh worker started",
		"interval", w.config.Interval,
		"amqp", w.consumer != nil)
	return nil
}

// Stop cancels the loops and waits for them to exit.
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.doneCh
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		w.logger.InfoContext(ctx, "Refresh worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Refresh worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Paused reports whether scheduled reloads stopped on an auth failure.
func (w *RefreshWorker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *RefreshWorker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	if w.config.ReloadOnStart {
		w.scheduledReload(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Paused() {
				continue
			}
			w.scheduledReload(ctx)
		}
	}
}

func (w *RefreshWorker) scheduledReload(ctx context.Context) {
	start := time.Now()
	err := w.app.ReloadAll(ctx)
	if ctx.Err() != nil {
		return
	}
	if w.app.ReauthRequired() {
		w.mu.Lock()
		w.paused = true
		w.mu.Unlock()
		w.logger.WarnContext(ctx, "Session requires re-authentication, scheduled reloads paused",
			applog.FieldError, err)
		return
	}
	if err != nil {
		w.logger.WarnContext(ctx, "Scheduled reload failed",
			applog.FieldOperation, applog.OpReload,
			applog.FieldError, err,
			applog.FieldDuration, time.Since(start).Milliseconds())
		return
	}
	w.logger.DebugContext(ctx, "Scheduled reload completed",
		applog.FieldDuration, time.Since(start).Milliseconds())
}

func (w *RefreshWorker) consume(ctx context.Context) {
	err := w.consumer.ConsumeReloadRequests(ctx, w.HandleReloadRequest)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.ErrorContext(ctx, "Reload request consumer stopped", applog.FieldError, err)
	}
}

// HandleReloadRequest reloads the requested domains. Requests arriving while
// re-authentication is required are acknowledged and skipped; superseded
// reloads count as handled.
func (w *RefreshWorker) HandleReloadRequest(ctx context.Context, req *amqp.ReloadRequest) error {
	domains, err := req.Domains()
	if err != nil {
		return fmt.Errorf("resolve reload request: %w", err)
	}
	if w.app.ReauthRequired() {
		w.logger.WarnContext(ctx, "Skipping reload request, session requires re-authentication",
			"requested_by", req.RequestedBy)
		return nil
	}

	var errs []error
	for _, d := range domains {
		err := w.app.Reload(ctx, d)
		switch {
		case err == nil, errors.Is(err, core.ErrSuperseded):
		case core.RequiresReauth(err):
			w.logger.WarnContext(ctx, "Reload request hit an auth failure",
				applog.FieldDomain, d, applog.FieldError, err)
			return nil
		default:
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reload requested by %q: %w", req.RequestedBy, err)
	}
	w.logger.InfoContext(ctx, "Reload request handled",
		"requested_by", req.RequestedBy, "domains", domains)
	return nil
}
