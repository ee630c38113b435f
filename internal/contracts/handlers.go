package contracts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/workpay/internal/validation"
)

// Handler provides HTTP endpoints for contract operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new contract handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required contract routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/contracts", h.CreateContract)
	r.GET("/contracts", h.ListContracts)
	r.GET("/contracts/:id", h.GetContract)
	r.POST("/contracts/:id/sign", h.SignContract)
	r.POST("/contracts/:id/activate", h.ActivateContract)
	r.POST("/contracts/:id/pause", h.PauseContract)
	r.POST("/contracts/:id/resume", h.ResumeContract)
	r.POST("/contracts/:id/dispute", h.DisputeContract)
	r.POST("/contracts/:id/cancel", h.CancelContract)
	r.POST("/contracts/:id/milestones/:mid/start", h.StartMilestone)
	r.POST("/contracts/:id/milestones/:mid/submit", h.SubmitMilestone)
	r.POST("/contracts/:id/milestones/:mid/approve", h.ApproveMilestone)
	r.POST("/contracts/:id/milestones/:mid/reject", h.RejectMilestone)
}

// RegisterAdminRoutes sets up admin-only contract routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/contracts/:id/resolve", h.ResolveDispute)
}

func respondContractError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrContractNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrMilestoneNotFound):
		status = http.StatusNotFound
		code = "milestone_not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrInvalidStatus):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrNotSigned):
		status = http.StatusConflict
		code = "not_signed"
	case errors.Is(err, ErrMilestoneSum), errors.Is(err, ErrNoMilestones):
		status = http.StatusBadRequest
		code = "invalid_milestones"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CreateContract handles POST /v1/contracts
func (h *Handler) CreateContract(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "freelancerId, title, totalAmount, and milestones are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("freelancer_id", req.FreelancerID),
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 500),
		validation.PositiveAmount("total_amount", req.TotalAmount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	clientID := c.GetString("authAccountID")
	contract, err := h.service.Create(c.Request.Context(), clientID, req)
	if err != nil {
		respondContractError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// GetContract handles GET /v1/contracts/:id
func (h *Handler) GetContract(c *gin.Context) {
	contract, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondContractError(c, err)
		return
	}

	caller := c.GetString("authAccountID")
	if !contract.Participant(caller) && c.GetString("authRole") != "admin" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Not a participant in this contract",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ListContracts handles GET /v1/contracts
func (h *Handler) ListContracts(c *gin.Context) {
	accountID := c.GetString("authAccountID")
	status := Status(c.Query("status"))
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

	list, err := h.service.ListByAccount(c.Request.Context(), accountID, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts": list,
		"count":     len(list),
	})
}

// SignContract handles POST /v1/contracts/:id/sign
func (h *Handler) SignContract(c *gin.Context) {
	contract, err := h.service.Sign(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ActivateContract handles POST /v1/contracts/:id/activate
func (h *Handler) ActivateContract(c *gin.Context) {
	contract, err := h.service.Activate(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// PauseContract handles POST /v1/contracts/:id/pause
func (h *Handler) PauseContract(c *gin.Context) {
	contract, err := h.service.Pause(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ResumeContract handles POST /v1/contracts/:id/resume
func (h *Handler) ResumeContract(c *gin.Context) {
	contract, err := h.service.Resume(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// DisputeContract handles POST /v1/contracts/:id/dispute
func (h *Handler) DisputeContract(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	contract, err := h.service.Dispute(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req.Reason)
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ResolveDispute handles POST /v1/admin/contracts/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required (resume or cancel)",
		})
		return
	}

	contract, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.Resolution)
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// CancelContract handles POST /v1/contracts/:id/cancel
func (h *Handler) CancelContract(c *gin.Context) {
	var req CancelRequest
	_ = c.ShouldBindJSON(&req) // Reason is optional

	contract, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authAccountID"), req.Reason)
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// StartMilestone handles POST /v1/contracts/:id/milestones/:mid/start
func (h *Handler) StartMilestone(c *gin.Context) {
	contract, err := h.service.StartMilestone(c.Request.Context(), c.Param("id"), c.Param("mid"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// SubmitMilestone handles POST /v1/contracts/:id/milestones/:mid/submit
func (h *Handler) SubmitMilestone(c *gin.Context) {
	var req SubmitRequest
	_ = c.ShouldBindJSON(&req) // Both fields are optional

	contract, err := h.service.SubmitMilestone(c.Request.Context(), c.Param("id"), c.Param("mid"), c.GetString("authAccountID"), req)
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ApproveMilestone handles POST /v1/contracts/:id/milestones/:mid/approve
func (h *Handler) ApproveMilestone(c *gin.Context) {
	contract, err := h.service.ApproveMilestone(c.Request.Context(), c.Param("id"), c.Param("mid"), c.GetString("authAccountID"))
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// RejectMilestone handles POST /v1/contracts/:id/milestones/:mid/reject
func (h *Handler) RejectMilestone(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	contract, err := h.service.RejectMilestone(c.Request.Context(), c.Param("id"), c.Param("mid"), c.GetString("authAccountID"), req.Reason)
	if err != nil {
		respondContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}
