// Package repository owns the in-memory collections of each domain and the
// REST calls that fill and mutate them.
package repository

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"octopus/internal/core"
	applog "octopus/internal/log"
)

// Transport sends one JSON request to a backend.
type Transport interface {
	Do(ctx context.Context, method string, domain core.Domain, path string, body, out any) error
}

// Stage fetches one collection without touching repository state. On
// success it returns apply, which installs the fetched items.
type Stage struct {
	Kind  string
	Fetch func(ctx context.Context) (apply func(), err error)
}

// envelope is the health backend's response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// kind describes one entity collection.
type kind[T any] struct {
	name      string
	path      string
	domain    core.Domain
	enveloped bool
	id        func(T) *int64

	mu    sync.RWMutex
	items []T
}

func newKind[T any](domain core.Domain, name, path string, id func(T) *int64) *kind[T] {
	return &kind[T]{
		name:      name,
		path:      path,
		domain:    domain,
		enveloped: domain == core.DomainHealth,
		id:        id,
		items:     []T{},
	}
}

func (k *kind[T]) replace(items []T) {
	if items == nil {
		items = []T{}
	}
	k.mu.Lock()
	k.items = items
	k.mu.Unlock()
}

func (k *kind[T]) snapshot() []T {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append(make([]T, 0, len(k.items)), k.items...)
}

func (k *kind[T]) stage(t Transport) Stage {
	return Stage{
		Kind: k.name,
		Fetch: func(ctx context.Context) (func(), error) {
			items, err := fetchAll(ctx, t, k)
			if err != nil {
				return nil, err
			}
			return func() { k.replace(items) }, nil
		},
	}
}

// fetchAll lists the collection from the server, normalizing envelopes.
func fetchAll[T any](ctx context.Context, t Transport, k *kind[T]) ([]T, error) {
	var items []T
	if k.enveloped {
		var env envelope[[]T]
		if err := t.Do(ctx, http.MethodGet, k.domain, k.path, nil, &env); err != nil {
			return nil, fmt.Errorf("list %s: %w", k.name, err)
		}
		if !env.Success {
			return nil, fmt.Errorf("list %s: %w: %s", k.name, core.ErrRejected, env.Message)
		}
		items = env.Data
	} else if err := t.Do(ctx, http.MethodGet, k.domain, k.path, nil, &items); err != nil {
		return nil, fmt.Errorf("list %s: %w", k.name, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// list fetches and replaces the collection.
func list[T any](ctx context.Context, t Transport, k *kind[T]) ([]T, error) {
	items, err := fetchAll(ctx, t, k)
	if err != nil {
		return nil, err
	}
	k.replace(items)
	return append([]T(nil), items...), nil
}

type validator interface {
	Validate() error
}

// create posts item and returns the server's copy. A health response with
// null data yields the submitted item.
func create[T validator](ctx context.Context, t Transport, k *kind[T], item T) (T, error) {
	var zero T
	if err := item.Validate(); err != nil {
		return zero, fmt.Errorf("create %s: %w", k.name, err)
	}
	return send(ctx, t, k, http.MethodPost, k.path, item)
}

func send[T any](ctx context.Context, t Transport, k *kind[T], method, path string, item T) (T, error) {
	var zero T
	op := "create"
	if method == http.MethodPut {
		op = "update"
	}
	if k.enveloped {
		var env envelope[*T]
		if err := t.Do(ctx, method, k.domain, path, item, &env); err != nil {
			return zero, fmt.Errorf("%s %s: %w", op, k.name, err)
		}
		if !env.Success {
			return zero, fmt.Errorf("%s %s: %w: %s", op, k.name, core.ErrRejected, env.Message)
		}
		if env.Data == nil {
			return item, nil
		}
		return *env.Data, nil
	}

	var out *T
	if err := t.Do(ctx, method, k.domain, path, item, &out); err != nil {
		return zero, fmt.Errorf("%s %s: %w", op, k.name, err)
	}
	if out == nil {
		return item, nil
	}
	return *out, nil
}

// update replaces a persisted item. The id must be positive.
func update[T validator](ctx context.Context, t Transport, k *kind[T], item T) (T, error) {
	var zero T
	id := k.id(item)
	if !core.IsPersisted(id) {
		return zero, &core.InvariantViolation{Op: "update " + k.name, Reason: "entity has no server id"}
	}
	if err := item.Validate(); err != nil {
		return zero, fmt.Errorf("update %s: %w", k.name, err)
	}
	return send(ctx, t, k, http.MethodPut, itemPath(k.path, *id), item)
}

// remove deletes a persisted item. Drafts fail without a network call.
func remove[T any](ctx context.Context, t Transport, k *kind[T], id *int64) error {
	if !core.IsPersisted(id) {
		return &core.InvariantViolation{Op: "delete " + k.name, Reason: "entity has no server id"}
	}
	var resp deleteResponse
	if err := t.Do(ctx, http.MethodDelete, k.domain, itemPath(k.path, *id), nil, &resp); err != nil {
		return fmt.Errorf("delete %s %d: %w", k.name, *id, err)
	}
	if !resp.Success {
		return fmt.Errorf("delete %s %d: %w: %s", k.name, *id, core.ErrRejected, resp.Message)
	}
	return nil
}

func itemPath(path string, id int64) string {
	return path + "/" + strconv.FormatInt(id, 10)
}

func logMutation(ctx context.Context, logger *applog.Logger, op string, domain core.Domain, kindName string, id *int64, err error) {
	if err != nil {
		logger.WarnContext(ctx, "Mutation failed",
			applog.FieldOperation, op, applog.FieldDomain, domain, applog.FieldKind, kindName, applog.FieldError, err)
		return
	}
	var entityID int64
	if id != nil {
		entityID = *id
	}
	logger.InfoContext(ctx, "Mutation succeeded",
		applog.FieldOperation, op, applog.FieldDomain, domain, applog.FieldKind, kindName, applog.FieldEntityID, entityID)
}
