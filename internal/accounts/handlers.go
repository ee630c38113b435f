package accounts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/workpay/internal/validation"
)

// Handler provides HTTP endpoints for account operations.
type Handler struct {
	service *Service
}

// NewHandler creates an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.Register)
}

// RegisterProtectedRoutes sets up auth-required account routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/me", h.GetMe)
	r.GET("/accounts/:id", h.GetAccount)
	r.PATCH("/accounts/:id", h.UpdateAccount)
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.POST("/accounts/:id/deactivate", h.DeactivateAccount)
}

// Register handles POST /v1/accounts
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email, name, and role are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidEmail("email", req.Email),
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	account, rawKey, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_role",
				"message": "role must be client or freelancer",
			})
		case errors.Is(err, ErrEmailExists):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_exists",
				"message": "Email is already registered",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to register account",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"account": account,
		"apiKey":  rawKey, // Shown once; only the hash is stored
	})
}

// GetMe handles GET /v1/accounts/me
func (h *Handler) GetMe(c *gin.Context) {
	id := c.GetString("authAccountID")
	account, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Account not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id := c.Param("id")
	account, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// UpdateAccount handles PATCH /v1/accounts/:id
func (h *Handler) UpdateAccount(c *gin.Context) {
	id := c.Param("id")

	// Accounts may only update themselves; admins may update anyone.
	if c.GetString("authAccountID") != id && c.GetString("authRole") != "admin" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Cannot modify another account",
		})
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	account, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
		case errors.Is(err, ErrDeactivated):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "account_deactivated",
				"message": "Account is deactivated",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account})
}

// ListAccounts handles GET /v1/admin/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	role := Role(c.Query("role"))
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

	list, err := h.service.List(c.Request.Context(), role, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": list,
		"count":    len(list),
	})
}

// DeactivateAccount handles POST /v1/admin/accounts/:id/deactivate
func (h *Handler) DeactivateAccount(c *gin.Context) {
	id := c.Param("id")
	account, err := h.service.Deactivate(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}
