package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports reachability of one backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether the embedding model is loaded.
type ReadyChecker interface {
	Ready() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	metadata Pinger
	vectors  Pinger
	model    ReadyChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(metadata, vectors Pinger, model ReadyChecker) *HealthHandler {
	return &HealthHandler{metadata: metadata, vectors: vectors, model: model}
}

// Health handles GET /health. It reports per-dependency status and
// returns 503 when any dependency is down.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if err := h.metadata.Ping(ctx); err != nil {
		checks["database"] = "down"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.vectors.Ping(ctx); err != nil {
		checks["vector_index"] = "down"
		healthy = false
	} else {
		checks["vector_index"] = "ok"
	}

	if h.model.Ready() {
		checks["model"] = "loaded"
	} else {
		checks["model"] = "not_loaded"
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
