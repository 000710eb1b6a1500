package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/storage"
)

// statusFor maps an application error to the bridge API status code.
func statusFor(err error) int {
	var (
		authErr    *core.AuthError
		httpErr    *core.HTTPError
		networkErr *core.NetworkError
	)
	switch {
	case errors.As(err, &authErr):
		if authErr.StatusCode >= 400 && authErr.StatusCode < 500 {
			return authErr.StatusCode
		}
		return http.StatusUnauthorized
	case core.RequiresReauth(err):
		return http.StatusUnauthorized
	case core.IsInvariantViolation(err):
		return http.StatusBadRequest
	case isValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, core.ErrRejected), errors.As(err, &httpErr):
		return http.StatusBadGateway
	case errors.As(err, &networkErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		core.ErrEmptyName, core.ErrEmptyDescription, core.ErrInvalidAmount,
		core.ErrInvalidDate, core.ErrInvalidDuration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		applog.FromContext(c.Request.Context()).ErrorContext(c.Request.Context(), "Request failed",
			applog.FieldPath, c.FullPath(), applog.FieldError, err)
	}
	c.JSON(status, gin.H{
		"error":           err.Error(),
		"reauth_required": core.RequiresReauth(err),
	})
}
