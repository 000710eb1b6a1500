package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octopus/internal/core"
	"octopus/internal/metrics"
)

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	invalidated []error
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) Invalidate(token string, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == f.token {
		f.token = ""
	}
	f.invalidated = append(f.invalidated, cause)
}

type recorded struct {
	method, path, auth, requestID, contentType, body string
}

func newBackend(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			requestID:   r.Header.Get(headerRequestID),
			contentType: r.Header.Get("Content-Type"),
			body:        string(b),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_AttachesBearerToken(t *testing.T) {
	srv, calls := newBackend(t, http.StatusOK, `[{"id":1,"name":"Checking","balance":12.5}]`)
	tokens := &fakeTokens{token: "tok"}
	c, err := New(srv.URL+"/", srv.URL, tokens, WithMetrics(metrics.New()))
	require.NoError(t, err)

	var accounts []core.Account
	require.NoError(t, c.Get(context.Background(), core.DomainBudget, "/api/accounts", &accounts))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/api/accounts", call.path)
	assert.Equal(t, "Bearer tok", call.auth)
	assert.NotEmpty(t, call.requestID)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Balance.Equal(core.MustMoney("12.5")))
}

func TestClient_AuthPathsNeverCarryToken(t *testing.T) {
	srv, calls := newBackend(t, http.StatusOK, `{"success":true,"token":"new"}`)
	c, err := New(srv.URL, srv.URL, &fakeTokens{token: "old"})
	require.NoError(t, err)

	body := map[string]string{"username": "u", "password": "p"}
	require.NoError(t, c.Post(context.Background(), core.DomainHealth, "/api/auth/login", body, nil))

	call := (*calls)[0]
	assert.Empty(t, call.auth)
	assert.Equal(t, "application/json", call.contentType)
	assert.JSONEq(t, `{"username":"u","password":"p"}`, call.body)
}

func TestClient_NoTokenSkipsNetwork(t *testing.T) {
	srv, calls := newBackend(t, http.StatusOK, `[]`)
	c, err := New(srv.URL, srv.URL, &fakeTokens{})
	require.NoError(t, err)

	err = c.Get(context.Background(), core.DomainHealth, "/api/health/goals", nil)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.True(t, core.RequiresReauth(err))
	assert.Empty(t, *calls)
}

func TestClient_AuthFailureInvalidatesSession(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv, _ := newBackend(t, status, `{"error":"invalid token"}`)
		tokens := &fakeTokens{token: "stale"}
		c, err := New(srv.URL, srv.URL, tokens)
		require.NoError(t, err)

		err = c.Get(context.Background(), core.DomainBudget, "/api/debts", nil)
		var httpErr *core.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, status, httpErr.StatusCode)
		assert.True(t, httpErr.IsAuthFailure())
		assert.Len(t, tokens.invalidated, 1)
		assert.Empty(t, tokens.Token())
	}
}

func TestClient_LoginRejectionKeepsSession(t *testing.T) {
	srv, _ := newBackend(t, http.StatusUnauthorized, `{"success":false,"message":"bad credentials"}`)
	tokens := &fakeTokens{token: "still-valid"}
	c, err := New(srv.URL, srv.URL, tokens)
	require.NoError(t, err)

	err = c.Post(context.Background(), core.DomainBudget, "/api/auth/login", map[string]string{}, nil)
	assert.Error(t, err)
	assert.Empty(t, tokens.invalidated)
}

func TestClient_HTTPErrorCarriesBody(t *testing.T) {
	srv, _ := newBackend(t, http.StatusInternalServerError, `boom`)
	c, err := New(srv.URL, srv.URL, &fakeTokens{token: "tok"})
	require.NoError(t, err)

	err = c.Get(context.Background(), core.DomainBudget, "/api/income", nil)
	var httpErr *core.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.Equal(t, "boom", httpErr.RawBody)
	assert.False(t, core.RequiresReauth(err))
}

func TestClient_NetworkAndDecodeErrors(t *testing.T) {
	srv, _ := newBackend(t, http.StatusOK, `not json`)
	c, err := New(srv.URL, srv.URL, &fakeTokens{token: "tok"})
	require.NoError(t, err)

	var out []core.Subscription
	err = c.Get(context.Background(), core.DomainBudget, "/api/subscriptions", &out)
	var netErr *core.NetworkError
	require.ErrorAs(t, err, &netErr)

	srv.Close()
	err = c.Get(context.Background(), core.DomainBudget, "/api/subscriptions", &out)
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, core.DomainBudget, netErr.Domain)
}

func TestClient_RoutesByDomain(t *testing.T) {
	var budgetHits, healthHits atomic.Int32
	budget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { budgetHits.Add(1) }))
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { healthHits.Add(1) }))
	defer budget.Close()
	defer health.Close()

	c, err := New(budget.URL, health.URL, &fakeTokens{token: "tok"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Get(ctx, core.DomainBudget, "/api/accounts", nil))
	require.NoError(t, c.Get(ctx, core.DomainHealth, "/api/health/weight", nil))
	require.NoError(t, c.Get(ctx, core.DomainHealth, "/api/health/meals", nil))

	assert.Equal(t, int32(1), budgetHits.Load())
	assert.Equal(t, int32(2), healthHits.Load())

	err = c.Get(ctx, core.Domain("auth"), "/x", nil)
	assert.True(t, core.IsInvariantViolation(err))
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New("not a url", "http://health", &fakeTokens{})
	assert.Error(t, err)
	_, err = New("http://budget", "http://health", nil)
	assert.Error(t, err)
}

func TestNew_TimeoutDoesNotMutateCallerClient(t *testing.T) {
	caller := &http.Client{Timeout: 0}
	c, err := New("http://budget", "http://health", &fakeTokens{},
		WithHTTPClient(caller), WithTimeout(5*time.Second))
	require.NoError(t, err)

	assert.Zero(t, caller.Timeout)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestClient_ContextCancelled(t *testing.T) {
	srv, _ := newBackend(t, http.StatusOK, `[]`)
	c, err := New(srv.URL, srv.URL, &fakeTokens{token: "tok"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Get(ctx, core.DomainBudget, "/api/accounts", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
