package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/monitoring"
)

// DashboardHandler exposes the monitoring read model
type DashboardHandler struct {
	aggregator *monitoring.Aggregator
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(aggregator *monitoring.Aggregator) *DashboardHandler {
	return &DashboardHandler{aggregator: aggregator}
}

// ListDashboards handles GET /api/v1/dashboard
func (h *DashboardHandler) ListDashboards(c *gin.Context) {
	SuccessResponse(c, gin.H{"services": h.aggregator.Dashboards()})
}

// GetDashboard handles GET /api/v1/dashboard/:service
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	service := c.Param("service")
	dashboard, ok := h.aggregator.Dashboard(service)
	if !ok {
		NotFoundResponse(c, "No dashboard for service "+service)
		return
	}
	SuccessResponse(c, dashboard)
}
