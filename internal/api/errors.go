package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"amplify/internal/ads"
	"amplify/internal/logging"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
	"amplify/internal/scheduler"
	"amplify/internal/store/sqlitestore"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *model.ValidationError
	var ce *resilience.CircuitOpenError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, sqlitestore.ErrDuplicateJob), errors.Is(err, ads.ErrAlreadyEscalated):
		return http.StatusConflict
	case errors.Is(err, sqlitestore.ErrNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := platform.AsPlatformError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": ...} with the mapped status.
func RespondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	if status >= http.StatusInternalServerError {
		logging.Error("api_request_failed", map[string]any{"path": c.FullPath(), "status": status, "error": err.Error()})
	}
	c.AbortWithStatusJSON(status, body)
}
