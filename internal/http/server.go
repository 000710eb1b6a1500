// Package http serves the local bridge API the presentation layers use to
// drive the application: session intents, domain snapshots, reloads and
// mutations, plus metrics and a health probe.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"octopus/internal/app"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	http.Server

	app     *app.App
	logger  *applog.Logger
	metrics *metrics.Metrics
	limiter *rateLimiter

	shutdownOnce sync.Once
}

type Option func(*Server)

func WithLogger(l *applog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent(applog.ComponentHTTP)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit sets the requests allowed per client IP per minute.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter.limit = perMinute
		}
	}
}

// NewServer configures the routes and returns a ready-to-run server.
func NewServer(addr string, a *app.App, opts ...Option) *Server {
	s := &Server{
		app:     a,
		logger:  applog.Nop(),
		limiter: newRateLimiter(120),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), securityHeaders(), s.rateLimit())

	r.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/session", s.handleSession)
		api.POST("/session/login", s.handleLogin)
		api.POST("/session/register", s.handleRegister)
		api.POST("/session/logout", s.handleLogout)
	}

	budget := api.Group("/budget")
	{
		budget.GET("", s.handleBudget)
		budget.GET("/last-known", s.handleLastKnownBudget)
		budget.POST("/reload", s.handleReloadBudget)

		budget.POST("/subscriptions", createHandler(a.CreateSubscription))
		budget.DELETE("/subscriptions/:id", deleteHandler(a.DeleteSubscription))
		budget.POST("/accounts", createHandler(a.CreateAccount))
		budget.DELETE("/accounts/:id", deleteHandler(a.DeleteAccount))
		budget.POST("/income", createHandler(a.CreateIncome))
		budget.DELETE("/income/:id", deleteHandler(a.DeleteIncome))
		budget.POST("/debts", createHandler(a.CreateDebt))
		budget.PUT("/debts/:id", s.handleUpdateDebt)
		budget.DELETE("/debts/:id", deleteHandler(a.DeleteDebt))
	}

	health := api.Group("/health")
	{
		health.GET("", s.handleHealth)
		health.GET("/last-known", s.handleLastKnownHealth)
		health.POST("/reload", s.handleReloadHealth)

		health.POST("/weight", createHandler(a.CreateWeight))
		health.DELETE("/weight/:id", deleteHandler(a.DeleteWeight))
		health.POST("/exercises", createHandler(a.CreateExercise))
		health.DELETE("/exercises/:id", deleteHandler(a.DeleteExercise))
		health.POST("/meals", createHandler(a.CreateMeal))
		health.DELETE("/meals/:id", deleteHandler(a.DeleteMeal))
		health.POST("/goals", createHandler(a.CreateGoal))
		health.DELETE("/goals/:id", deleteHandler(a.DeleteGoal))
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// reloads fan out to both backends
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}
	return s
}

// Shutdown stops the limiter cleanup and the HTTP server. Safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// requestLogger tags each request with an id and logs its completion.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		logger := s.logger.With(applog.FieldRequestID, requestID)
		c.Request = c.Request.WithContext(applog.NewContext(c.Request.Context(), logger))

		c.Next()

		status := c.Writer.Status()
		fields := applog.NewFields().
			WithRequestID(requestID).
			WithHTTPRequest(c.Request.Method, c.FullPath()).
			WithHTTPResponse(status, time.Since(start).Milliseconds(), status < http.StatusBadRequest)
		if status >= http.StatusInternalServerError {
			s.logger.WarnContext(c.Request.Context(), "HTTP request completed", fields.ToSlice()...)
			return
		}
		s.logger.DebugContext(c.Request.Context(), "HTTP request completed", fields.ToSlice()...)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"authenticated":   s.app.Session().Authenticated,
		"reauth_required": s.app.ReauthRequired(),
	})
}
