package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"octopus/internal/core"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Backend  string `json:"backend"`
}

// backend resolves the requested auth backend, defaulting to budget.
func (r credentialsRequest) backend() (core.Domain, error) {
	if r.Backend == "" {
		return core.DomainBudget, nil
	}
	return core.ParseDomain(r.Backend)
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Session())
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	backend, err := req.backend()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.app.Login(c.Request.Context(), req.Username, req.Password, backend); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": s.app.Session(),
		"budget":  s.app.Budget().Status,
		"health":  s.app.Health().Status,
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	backend, err := req.backend()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conf, err := s.app.Register(c.Request.Context(), req.Username, req.Password, backend)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conf)
}

func (s *Server) handleLogout(c *gin.Context) {
	s.app.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}
