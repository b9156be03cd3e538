package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/monitoring"
)

// AlertsHandler exposes the alert lifecycle
type AlertsHandler struct {
	aggregator *monitoring.Aggregator
}

// NewAlertsHandler creates a new alerts handler
func NewAlertsHandler(aggregator *monitoring.Aggregator) *AlertsHandler {
	return &AlertsHandler{aggregator: aggregator}
}

// ListAlerts handles GET /api/v1/alerts
func (h *AlertsHandler) ListAlerts(c *gin.Context) {
	SuccessResponse(c, gin.H{"alerts": h.aggregator.ActiveAlerts()})
}

// AcknowledgeAlert handles POST /api/v1/alerts/:id/ack
func (h *AlertsHandler) AcknowledgeAlert(c *gin.Context) {
	if err := h.aggregator.Acknowledge(c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"alert_id": c.Param("id"), "status": "acknowledged"})
}

// ResolveAlert handles POST /api/v1/alerts/:id/resolve
func (h *AlertsHandler) ResolveAlert(c *gin.Context) {
	if err := h.aggregator.Resolve(c.Request.Context(), c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"alert_id": c.Param("id"), "status": "resolved"})
}
