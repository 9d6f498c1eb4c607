package errorx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorHandler provides unified error handling capabilities
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger.Named("errorx"),
	}
}

// HandleError converts any error to APIError and writes the HTTP response
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	apiErr := *ToAPIError(err)
	apiErr.TraceID = uuid.New().String()
	apiErr.Timestamp = time.Now().UTC().Format(time.RFC3339)

	fields := []zap.Field{
		zap.String("trace_id", apiErr.TraceID),
		zap.String("error_code", apiErr.Code),
		zap.String("category", string(apiErr.Category)),
		zap.Int("http_status", apiErr.HTTPStatus),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	}
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error(apiErr.Message, fields...)
	} else {
		h.logger.Warn(apiErr.Message, fields...)
	}

	c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{"error": &apiErr})
}

// RecoveryMiddleware returns a gin middleware for panic recovery
func (h *ErrorHandler) RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		h.HandleError(c, &APIError{
			Code:       "E5000",
			Message:    "Server panic occurred",
			Category:   CategoryInternal,
			HTTPStatus: http.StatusInternalServerError,
			Details:    map[string]any{"panic": fmt.Sprintf("%v", err)},
		})
	})
}
