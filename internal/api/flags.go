package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/degrade"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// FlagsHandler manages feature flag administration
type FlagsHandler struct {
	flags  *degrade.FlagSet
	logger *logging.Logger
}

// NewFlagsHandler creates a new flags handler
func NewFlagsHandler(flags *degrade.FlagSet, logger *logging.Logger) *FlagsHandler {
	return &FlagsHandler{flags: flags, logger: logger}
}

// ListFlags handles GET /api/v1/flags
func (h *FlagsHandler) ListFlags(c *gin.Context) {
	SuccessResponse(c, gin.H{"flags": h.flags.ListFlags()})
}

// SetFlag handles PUT /api/v1/flags
func (h *FlagsHandler) SetFlag(c *gin.Context) {
	var flag degrade.FeatureFlag
	if err := c.ShouldBindJSON(&flag); err != nil {
		BadRequestResponse(c, "Invalid flag payload: "+err.Error())
		return
	}

	if err := h.flags.SetFlag(flag); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"flag":    flag.Name,
		"enabled": flag.Enabled,
		"rollout": flag.RolloutPercentage,
	}).Info("Feature flag updated")

	SuccessResponse(c, flag)
}

// DeleteFlag handles DELETE /api/v1/flags/:name
func (h *FlagsHandler) DeleteFlag(c *gin.Context) {
	name := c.Param("name")
	if !h.flags.DeleteFlag(name) {
		NotFoundResponse(c, "Flag not found")
		return
	}
	SuccessResponse(c, gin.H{"flag": name})
}
