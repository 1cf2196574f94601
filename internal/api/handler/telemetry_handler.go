package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/batchmigrate/internal/console"
)

// TelemetryHandler serves resource and overview endpoints.
type TelemetryHandler struct {
	console *console.Console
}

// NewTelemetryHandler creates a new telemetry handler.
func NewTelemetryHandler(c *console.Console) *TelemetryHandler {
	return &TelemetryHandler{console: c}
}

// Resources handles GET /api/v1/telemetry/resources.
func (h *TelemetryHandler) Resources(c *gin.Context) {
	snap, err := h.console.Resources(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Overview handles GET /api/v1/overview.
func (h *TelemetryHandler) Overview(c *gin.Context) {
	ov, err := h.console.Overview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// Schemas handles GET /api/v1/schemas.
func (h *TelemetryHandler) Schemas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schemas": h.console.Schemas(),
	})
}
