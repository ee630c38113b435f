package settings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for platform settings.
type Handler struct {
	service *Service
}

// NewHandler creates a settings handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) settings routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.GetSettings)
}

// RegisterAdminRoutes sets up admin-only settings routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/settings", h.UpdateSettings)
	r.GET("/settings/history", h.GetHistory)
	r.POST("/settings/tiers", h.AddTier)
	r.DELETE("/settings/tiers/:tierId", h.RemoveTier)
}

// GetSettings handles GET /v1/settings
func (h *Handler) GetSettings(c *gin.Context) {
	cur, err := h.service.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load settings",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": cur})
}

// UpdateSettings handles PUT /v1/admin/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	updatedBy := c.GetString("authAccountID")
	next, err := h.service.Update(c.Request.Context(), req, updatedBy)
	if err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update settings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": next})
}

// AddTier handles POST /v1/admin/settings/tiers
func (h *Handler) AddTier(c *gin.Context) {
	var tier CommissionTier
	if err := c.ShouldBindJSON(&tier); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	next, err := h.service.AddTier(c.Request.Context(), tier, c.GetString("authAccountID"))
	if err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to add tier",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"settings": next})
}

// RemoveTier handles DELETE /v1/admin/settings/tiers/:tierId
func (h *Handler) RemoveTier(c *gin.Context) {
	next, err := h.service.RemoveTier(c.Request.Context(), c.Param("tierId"), c.GetString("authAccountID"))
	if err != nil {
		if errors.Is(err, ErrTierNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Tier not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to remove tier",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": next})
}

// GetHistory handles GET /v1/admin/settings/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	offset := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	versions, err := h.service.History(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load settings history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"versions": versions,
		"count":    len(versions),
	})
}
