package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// ServiceHandler manages service instance registration
type ServiceHandler struct {
	registry *registry.Registry
	logger   *logging.Logger
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(reg *registry.Registry, logger *logging.Logger) *ServiceHandler {
	return &ServiceHandler{
		registry: reg,
		logger:   logger,
	}
}

// RegisterInstance handles POST /api/v1/services
func (h *ServiceHandler) RegisterInstance(c *gin.Context) {
	var spec registry.RegistrationSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		BadRequestResponse(c, "Invalid registration payload: "+err.Error())
		return
	}

	id, err := h.registry.Register(spec)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"service":     spec.Name,
		"instance_id": id,
	}).Info("Instance registered")

	CreatedResponse(c, gin.H{
		"instance_id": id,
		"service":     spec.Name,
	})
}

// DeregisterInstance handles DELETE /api/v1/services/:id
func (h *ServiceHandler) DeregisterInstance(c *gin.Context) {
	id := c.Param("id")

	instance, ok := h.registry.Get(id)
	if !ok {
		NotFoundResponse(c, "Instance not found")
		return
	}

	// Balancer state is purged through the registry's deregister listener
	h.registry.Deregister(id)

	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"service":     instance.ServiceName,
		"instance_id": id,
	}).Info("Instance deregistered")

	SuccessResponse(c, gin.H{
		"instance_id": id,
		"service":     instance.ServiceName,
	})
}

// ListInstances handles GET /api/v1/services with optional ?service= filter
func (h *ServiceHandler) ListInstances(c *gin.Context) {
	if service := c.Query("service"); service != "" {
		SuccessResponse(c, gin.H{
			"service":   service,
			"instances": h.registry.GetAll(service),
		})
		return
	}

	services := make(map[string][]*registry.ServiceInstance)
	for _, name := range h.registry.Services() {
		services[name] = h.registry.GetAll(name)
	}
	SuccessResponse(c, gin.H{"services": services})
}
