package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/logger"
)

// errorBody is the JSON error envelope shared by all endpoints.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForKind maps error kinds to HTTP status codes.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExtraction:
		return http.StatusBadGateway
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an error as the JSON envelope. The wrapped cause is
// logged but never exposed to clients.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	if status >= http.StatusInternalServerError {
		logger.CtxError(c.Request.Context(), "Request failed: error=%v", err)
	}

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	c.JSON(status, gin.H{"error": errorBody{Kind: string(kind), Message: message}})
}
