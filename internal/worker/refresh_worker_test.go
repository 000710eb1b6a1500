package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octopus/internal/amqp"
	"octopus/internal/core"
)

type fakeReloader struct {
	mu       sync.Mutex
	all      int
	domains  []core.Domain
	reauth   bool
	allErr   error
	reloadFn func(core.Domain) error
}

func (f *fakeReloader) ReloadAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	return f.allErr
}

func (f *fakeReloader) Reload(_ context.Context, d core.Domain) error {
	f.mu.Lock()
	f.domains = append(f.domains, d)
	fn := f.reloadFn
	f.mu.Unlock()
	if fn != nil {
		return fn(d)
	}
	return nil
}

func (f *fakeReloader) ReauthRequired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reauth
}

func (f *fakeReloader) allCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all
}

type fakeConsumer struct {
	requests []*amqp.ReloadRequest
	handled  chan error
}

func (c *fakeConsumer) ConsumeReloadRequests(ctx context.Context, handler amqp.ReloadHandler) error {
	for _, r := range c.requests {
		c.handled <- handler(ctx, r)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.ReloadOnStart)

	w := NewRefreshWorker(&fakeReloader{}, nil, Config{}, nil)
	assert.Equal(t, 5*time.Minute, w.config.Interval)
}

func TestRefreshWorker_Lifecycle(t *testing.T) {
	app := &fakeReloader{}
	w := NewRefreshWorker(app, nil, Config{Interval: 10 * time.Millisecond, ReloadOnStart: true}, nil)
	ctx := context.Background()

	assert.False(t, w.IsRunning())
	assert.NoError(t, w.Stop(ctx), "stopping an idle worker is a no-op")

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx))

	require.Eventually(t, func() bool { return app.allCount() >= 3 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))
	assert.False(t, w.IsRunning())

	n := app.allCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, app.allCount(), "no reloads after Stop")
}

func TestRefreshWorker_PausesOnReauth(t *testing.T) {
	app := &fakeReloader{reauth: true, allErr: core.ErrUnauthenticated}
	w := NewRefreshWorker(app, nil, Config{Interval: 5 * time.Millisecond, ReloadOnStart: true}, nil)
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	require.Eventually(t, w.Paused, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, app.allCount(), "no automatic retry after an auth failure")
}

func TestRefreshWorker_ConsumesReloadRequests(t *testing.T) {
	app := &fakeReloader{}
	consumer := &fakeConsumer{
		requests: []*amqp.ReloadRequest{
			amqp.NewReloadRequest(core.DomainHealth, "cli"),
			amqp.NewReloadRequest("", "cron"),
		},
		handled: make(chan error, 2),
	}
	w := NewRefreshWorker(app, consumer, Config{Interval: time.Hour}, nil)
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	for range 2 {
		select {
		case err := <-consumer.handled:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("reload request not handled")
		}
	}
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, []core.Domain{core.DomainHealth, core.DomainBudget, core.DomainHealth}, app.domains)
	assert.Zero(t, app.allCount(), "ReloadOnStart disabled")
}

func TestHandleReloadRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid domain", func(t *testing.T) {
		w := NewRefreshWorker(&fakeReloader{}, nil, DefaultConfig(), nil)
		err := w.HandleReloadRequest(ctx, &amqp.ReloadRequest{Domain: "tax"})
		assert.Error(t, err)
	})

	t.Run("skipped while reauth required", func(t *testing.T) {
		app := &fakeReloader{reauth: true}
		w := NewRefreshWorker(app, nil, DefaultConfig(), nil)
		assert.NoError(t, w.HandleReloadRequest(ctx, amqp.NewReloadRequest("", "test")))
		assert.Empty(t, app.domains)
	})

	t.Run("superseded counts as handled", func(t *testing.T) {
		app := &fakeReloader{reloadFn: func(core.Domain) error { return core.ErrSuperseded }}
		w := NewRefreshWorker(app, nil, DefaultConfig(), nil)
		assert.NoError(t, w.HandleReloadRequest(ctx, amqp.NewReloadRequest(core.DomainBudget, "test")))
	})

	t.Run("auth failure is not requeued", func(t *testing.T) {
		app := &fakeReloader{reloadFn: func(core.Domain) error { return core.ErrUnauthenticated }}
		w := NewRefreshWorker(app, nil, DefaultConfig(), nil)
		assert.NoError(t, w.HandleReloadRequest(ctx, amqp.NewReloadRequest("", "test")))
		assert.Len(t, app.domains, 1)
	})

	t.Run("backend failure is returned", func(t *testing.T) {
		boom := &core.NetworkError{Domain: core.DomainHealth, Err: errors.New("refused")}
		app := &fakeReloader{reloadFn: func(d core.Domain) error {
			if d == core.DomainHealth {
				return boom
			}
			return nil
		}}
		w := NewRefreshWorker(app, nil, DefaultConfig(), nil)
		err := w.HandleReloadRequest(ctx, amqp.NewReloadRequest("", "test"))
		assert.ErrorIs(t, err, boom)
		assert.Len(t, app.domains, 2)
	})
}
