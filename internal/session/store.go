// Package session holds the process-wide bearer token and the login,
// registration and logout flows. The token lives in memory only.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
)

// Info describes the current session without exposing the token.
type Info struct {
	Authenticated bool        `json:"authenticated"`
	Issuer        core.Domain `json:"issuer,omitempty"`
	Subject       string      `json:"subject,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	InvalidatedBy string      `json:"invalidated_by,omitempty"`
}

// Store is the single token shared by both backends. It implements
// transport.TokenSource.
type Store struct {
	mu            sync.RWMutex
	token         string
	issuer        core.Domain
	subject       string
	expiresAt     time.Time
	invalidatedBy string

	now     func() time.Time
	logger  *applog.Logger
	metrics *metrics.Metrics
}

func NewStore(logger *applog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = applog.Nop()
	}
	return &Store{now: time.Now, logger: logger, metrics: m}
}

// Token returns the current token, or "" when there is none or its exp
// claim has passed.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		return ""
	}
	return s.token
}

func (s *Store) expiredLocked() bool {
	return s.token != "" && !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// Authenticated reports whether a usable token is held.
func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// Set installs token as the session. Claims are read without verification
// since the signing secret belongs to the backends; tokens that are not
// JWTs are kept as opaque strings with no expiry.
func (s *Store) Set(token string, issuer core.Domain) {
	var (
		subject   string
		expiresAt time.Time
	)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		subject, _ = claims.GetSubject()
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}
	}

	s.mu.Lock()
	s.token = token
	s.issuer = issuer
	s.subject = subject
	s.expiresAt = expiresAt
	s.invalidatedBy = ""
	s.mu.Unlock()

	s.metrics.SetAuthenticated(true)
}

// Clear drops the token (logout).
func (s *Store) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	s.metrics.SetAuthenticated(false)
}

// Invalidate drops token after a backend rejected it. A rejection that
// arrives after the session moved on to another token is ignored.
func (s *Store) Invalidate(token string, cause error) {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		s.logger.Debug("Ignoring rejection of a replaced token", applog.FieldError, cause)
		return
	}
	had := s.token != ""
	s.clearLocked()
	if cause != nil {
		s.invalidatedBy = cause.Error()
	}
	s.mu.Unlock()

	s.metrics.SetAuthenticated(false)
	if had {
		s.logger.Warn("Session invalidated, re-authentication required", applog.FieldError, cause)
	}
}

func (s *Store) clearLocked() {
	s.token = ""
	s.issuer = ""
	s.subject = ""
	s.expiresAt = time.Time{}
}

// Info returns a snapshot of the session state.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{InvalidatedBy: s.invalidatedBy}
	if s.token == "" || s.expiredLocked() {
		return info
	}
	info.Authenticated = true
	info.Issuer = s.issuer
	info.Subject = s.subject
	if !s.expiresAt.IsZero() {
		exp := s.expiresAt
		info.ExpiresAt = &exp
	}
	return info
}
