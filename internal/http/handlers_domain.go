package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"octopus/internal/core"
)

func (s *Server) handleBudget(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Budget())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Health())
}

func (s *Server) handleLastKnownBudget(c *gin.Context) {
	snap, err := s.app.LastKnownBudget(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleLastKnownHealth(c *gin.Context) {
	snap, err := s.app.LastKnownHealth(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleReloadBudget(c *gin.Context) {
	snap, err := s.app.ReloadBudget(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleReloadHealth(c *gin.Context) {
	snap, err := s.app.ReloadHealth(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleUpdateDebt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var d core.Debt
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	d.ID = core.ID(id)

	updated, err := s.app.UpdateDebt(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// createHandler decodes a T from the body and hands it to create. Any id in
// the body is dropped so the item is always a draft.
func createHandler[T any](create func(context.Context, T) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var item T
		if err := c.ShouldBindJSON(&item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		clearID(&item)

		created, err := create(c.Request.Context(), item)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func deleteHandler(remove func(context.Context, *int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if err := remove(c.Request.Context(), core.ID(id)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func clearID(item any) {
	switch v := item.(type) {
	case *core.Subscription:
		v.ID = nil
	case *core.Account:
		v.ID = nil
	case *core.Income:
		v.ID = nil
	case *core.Debt:
		v.ID = nil
	case *core.WeightEntry:
		v.ID = nil
	case *core.Exercise:
		v.ID = nil
	case *core.Meal:
		v.ID = nil
	case *core.Goal:
		v.ID = nil
	}
}
