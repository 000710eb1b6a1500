package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octopus/internal/core"
	"octopus/internal/fakebackend"
	"octopus/internal/transport"
)

func newSession(t *testing.T) (*Manager, *transport.Client, *fakebackend.Backend, *fakebackend.Backend) {
	t.Helper()
	budget, health := fakebackend.Pair([]byte("shared-secret"))
	t.Cleanup(budget.Close)
	t.Cleanup(health.Close)

	store := NewStore(nil, nil)
	client, err := transport.New(budget.URL(), health.URL(), store)
	require.NoError(t, err)
	return NewManager(client, store, nil), client, budget, health
}

func TestLogin_BudgetTokenAuthorizesHealth(t *testing.T) {
	mgr, client, budget, _ := newSession(t)
	budget.AddUser("alice", "pw")
	ctx := context.Background()

	token, err := mgr.Login(ctx, "alice", "pw", core.DomainBudget)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, mgr.Store().Authenticated())

	var env struct {
		Success bool              `json:"success"`
		Data    []core.WeightEntry `json:"data"`
	}
	require.NoError(t, client.Get(ctx, core.DomainHealth, "/api/health/weight", &env))
	assert.True(t, env.Success)

	info := mgr.Store().Info()
	assert.Equal(t, core.DomainBudget, info.Issuer)
	assert.Equal(t, "alice", info.Subject)
	require.NotNil(t, info.ExpiresAt)
}

func TestLogin_Rejected(t *testing.T) {
	mgr, _, budget, _ := newSession(t)
	budget.AddUser("alice", "pw")

	_, err := mgr.Login(context.Background(), "alice", "wrong", core.DomainBudget)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "invalid credentials", authErr.Message)
	assert.False(t, mgr.Store().Authenticated())
}

func TestLogin_EmptyCredentialsSkipNetwork(t *testing.T) {
	mgr, _, budget, _ := newSession(t)
	_, err := mgr.Login(context.Background(), "", "", core.DomainBudget)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, budget.Hits("/api/auth/login"))
}

func TestLogin_NetworkError(t *testing.T) {
	mgr, _, budget, _ := newSession(t)
	budget.Close()

	_, err := mgr.Login(context.Background(), "alice", "pw", core.DomainBudget)
	var netErr *core.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestLogin_ServerErrorIsNotAuthError(t *testing.T) {
	mgr, _, _, health := newSession(t)
	health.SetFault("/api/auth/login", fakebackend.Fault{Status: http.StatusBadGateway})

	_, err := mgr.Login(context.Background(), "alice", "pw", core.DomainHealth)
	var httpErr *core.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestRegister_DoesNotLogIn(t *testing.T) {
	mgr, _, _, health := newSession(t)
	ctx := context.Background()

	conf, err := mgr.Register(ctx, "bob", "pw", core.DomainHealth)
	require.NoError(t, err)
	assert.NotEmpty(t, conf.UserID)
	assert.False(t, mgr.Store().Authenticated())

	_, err = mgr.Register(ctx, "bob", "pw", core.DomainHealth)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusConflict, authErr.StatusCode)

	_, err = mgr.Login(ctx, "bob", "pw", core.DomainHealth)
	require.NoError(t, err)
	assert.Equal(t, 2, health.Hits("/api/auth/register"))
}

func TestRegister_UserIDForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string id", `{"success":true,"message":"user created","userId":"42"}`, "42"},
		{"numeric id", `{"success":true,"message":"user created","userId":42}`, "42"},
		{"null id", `{"success":true,"message":"user created","userId":null}`, ""},
		{"missing id", `{"success":true,"message":"user created"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			store := NewStore(nil, nil)
			client, err := transport.New(srv.URL, srv.URL, store)
			require.NoError(t, err)

			conf, err := NewManager(client, store, nil).Register(context.Background(), "carol", "pw", core.DomainBudget)
			require.NoError(t, err)
			assert.Equal(t, tt.want, conf.UserID)
			assert.Equal(t, "user created", conf.Message)
		})
	}
}

func TestLogout_ClearsToken(t *testing.T) {
	mgr, client, budget, _ := newSession(t)
	budget.AddUser("alice", "pw")
	ctx := context.Background()
	_, err := mgr.Login(ctx, "alice", "pw", core.DomainBudget)
	require.NoError(t, err)

	mgr.Logout()
	assert.False(t, mgr.Store().Authenticated())

	err = client.Get(ctx, core.DomainBudget, "/api/accounts", nil)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.Zero(t, budget.Hits("/api/accounts"))
}

func TestStore_RejectedTokenInvalidatesSession(t *testing.T) {
	mgr, client, _, health := newSession(t)
	foreign := fakebackend.New(core.DomainBudget, []byte("other-secret"))
	defer foreign.Close()
	mgr.Store().Set(foreign.IssueToken("mallory", time.Hour), core.DomainBudget)

	err := client.Get(context.Background(), core.DomainHealth, "/api/health/goals", nil)
	assert.True(t, core.RequiresReauth(err))
	assert.False(t, mgr.Store().Authenticated())
	assert.NotEmpty(t, mgr.Store().Info().InvalidatedBy)
	assert.Equal(t, 1, health.Hits("/api/health/goals"))
}

func TestStore_StaleRejectionKeepsNewSession(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := NewStore(nil, nil)
	store.Set("old", core.DomainBudget)
	client, err := transport.New(srv.URL, srv.URL, store)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Get(context.Background(), core.DomainBudget, "/api/accounts", nil)
	}()

	<-arrived
	store.Set("new", core.DomainBudget)
	close(release)

	err = <-errCh
	assert.True(t, core.RequiresReauth(err))
	assert.Equal(t, "new", store.Token())
	assert.Empty(t, store.Info().InvalidatedBy)

	store.Invalidate("new", errors.New("401"))
	assert.Empty(t, store.Token())
}

func TestStore_ExpiredTokenIsAbsent(t *testing.T) {
	store := NewStore(nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	claims := jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	store.Set(token, core.DomainHealth)
	assert.Equal(t, token, store.Token())

	now = now.Add(2 * time.Minute)
	assert.Empty(t, store.Token())
	assert.False(t, store.Info().Authenticated)
}

func TestStore_OpaqueToken(t *testing.T) {
	store := NewStore(nil, nil)
	store.Set("opaque-token", core.DomainBudget)
	assert.Equal(t, "opaque-token", store.Token())
	info := store.Info()
	assert.True(t, info.Authenticated)
	assert.Nil(t, info.ExpiresAt)

	store.Invalidate("opaque-token", errors.New("401"))
	assert.Equal(t, "401", store.Info().InvalidatedBy)
	store.Set("again", core.DomainBudget)
	assert.Empty(t, store.Info().InvalidatedBy)
}

func TestServerMessage(t *testing.T) {
	assert.Equal(t, "nope", serverMessage(`{"message":"nope"}`))
	assert.Equal(t, "bad", serverMessage(`{"error":"bad"}`))
	assert.Equal(t, "plain text", serverMessage(" plain text "))
}
