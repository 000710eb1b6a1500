package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"octopus/internal/core"
	applog "octopus/internal/log"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
)

// Doer sends one JSON request to a backend.
type Doer interface {
	Do(ctx context.Context, method string, domain core.Domain, path string, body, out any) error
}

// Confirmation is the result of a successful registration.
type Confirmation struct {
	Message string `json:"message,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
	UserID  userID `json:"userId"`
}

// userID accepts the registration id as a JSON string or number.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if bytes.Equal(raw, []byte("null")) {
		*u = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	*u = userID(n.String())
	return nil
}

type Manager struct {
	transport Doer
	store     *Store
	logger    *applog.Logger
}

func NewManager(transport Doer, store *Store, logger *applog.Logger) *Manager {
	if logger == nil {
		logger = applog.Nop()
	}
	return &Manager{transport: transport, store: store, logger: logger}
}

// Store returns the token store the manager writes to.
func (m *Manager) Store() *Store {
	return m.store
}

// Login authenticates against backend and stores the returned token as the
// session for both backends.
func (m *Manager) Login(ctx context.Context, username, password string, backend core.Domain) (string, error) {
	resp, err := m.call(ctx, loginPath, username, password, backend)
	if err != nil {
		m.logger.WarnContext(ctx, "Login failed", applog.FieldOperation, applog.OpLogin,
			applog.FieldBackend, backend, applog.FieldUsername, username, applog.FieldError, err)
		return "", err
	}
	if resp.Token == "" {
		return "", &core.AuthError{Message: "server returned no token"}
	}

	m.store.Set(resp.Token, backend)
	m.logger.InfoContext(ctx, "Logged in", applog.FieldBackend, backend, applog.FieldUsername, username)
	return resp.Token, nil
}

// Register creates an account on backend. It does not log in.
func (m *Manager) Register(ctx context.Context, username, password string, backend core.Domain) (Confirmation, error) {
	resp, err := m.call(ctx, registerPath, username, password, backend)
	if err != nil {
		m.logger.WarnContext(ctx, "Registration failed", applog.FieldOperation, applog.OpRegister,
			applog.FieldBackend, backend, applog.FieldUsername, username, applog.FieldError, err)
		return Confirmation{}, err
	}
	m.logger.InfoContext(ctx, "Registered", applog.FieldBackend, backend, applog.FieldUsername, username)
	return Confirmation{Message: resp.Message, UserID: string(resp.UserID)}, nil
}

// Logout clears the session. The backends are stateless, so nothing is sent.
func (m *Manager) Logout() {
	m.store.Clear()
	m.logger.Info("Logged out")
}

func (m *Manager) call(ctx context.Context, path, username, password string, backend core.Domain) (authResponse, error) {
	if !backend.IsValid() {
		return authResponse{}, &core.InvariantViolation{Op: "session" + path, Reason: fmt.Sprintf("unknown backend %q", backend)}
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return authResponse{}, &core.AuthError{Message: "username and password are required"}
	}

	var resp authResponse
	err := m.transport.Do(ctx, http.MethodPost, backend, path, credentials{Username: username, Password: password}, &resp)
	if err != nil {
		var httpErr *core.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			return authResponse{}, &core.AuthError{Message: serverMessage(httpErr.RawBody), StatusCode: httpErr.StatusCode}
		}
		return authResponse{}, err
	}
	if !resp.Success {
		return authResponse{}, &core.AuthError{Message: resp.Message, StatusCode: http.StatusOK}
	}
	return resp, nil
}

// serverMessage extracts "message" or "error" from a JSON error body.
func serverMessage(raw string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(raw)
}
