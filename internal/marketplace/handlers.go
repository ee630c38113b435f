package marketplace

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/workpay/internal/auth"
	"github.com/mbd888/workpay/internal/validation"
)

// ServiceHandlers provides HTTP handlers for projects and proposals.
type ServiceHandlers struct {
	service *Service
}

// NewServiceHandlers creates marketplace handlers.
func NewServiceHandlers(service *Service) *ServiceHandlers {
	return &ServiceHandlers{service: service}
}

// RegisterRoutes registers marketplace endpoints on the given router group.
func (h *ServiceHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	projects := rg.Group("/projects")
	{
		projects.GET("", h.listProjects)
		projects.GET("/:id", h.getProject)

		authed := projects.Group("")
		authed.Use(auth.RequireAuth())
		{
			authed.POST("", h.createProject)
			authed.POST("/:id/close", h.closeProject)
			authed.POST("/:id/proposals", h.submitProposal)
			authed.GET("/:id/proposals", h.listProposals)
		}
	}

	proposals := rg.Group("/proposals")
	proposals.Use(auth.RequireAuth())
	{
		proposals.GET("", h.myProposals)
		proposals.POST("/:id/accept", h.acceptProposal)
		proposals.POST("/:id/reject", h.rejectProposal)
	}
}

func (h *ServiceHandlers) createProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("description", req.Description, 10000),
		validation.PositiveAmount("budget", req.Budget),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	project, err := h.service.CreateProject(c.Request.Context(), auth.AccountID(c), req)
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *ServiceHandlers) getProject(c *gin.Context) {
	project, err := h.service.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *ServiceHandlers) listProjects(c *gin.Context) {
	limit, offset := parsePage(c)
	status := ProjectStatus(c.Query("status"))
	projects, err := h.service.ListProjects(c.Request.Context(), status, c.Query("clientId"), limit, offset)
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	if projects == nil {
		projects = []*Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *ServiceHandlers) closeProject(c *gin.Context) {
	project, err := h.service.CloseProject(c.Request.Context(), c.Param("id"), auth.AccountID(c))
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *ServiceHandlers) submitProposal(c *gin.Context) {
	var req SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	proposal, err := h.service.SubmitProposal(c.Request.Context(), c.Param("id"), auth.AccountID(c), req)
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

func (h *ServiceHandlers) listProposals(c *gin.Context) {
	proposals, err := h.service.ListProposals(c.Request.Context(), c.Param("id"), auth.AccountID(c))
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	if proposals == nil {
		proposals = []*Proposal{}
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

func (h *ServiceHandlers) myProposals(c *gin.Context) {
	limit, offset := parsePage(c)
	proposals, err := h.service.MyProposals(c.Request.Context(), auth.AccountID(c), limit, offset)
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	if proposals == nil {
		proposals = []*Proposal{}
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

func (h *ServiceHandlers) acceptProposal(c *gin.Context) {
	proposal, err := h.service.AcceptProposal(c.Request.Context(), c.Param("id"), auth.AccountID(c))
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (h *ServiceHandlers) rejectProposal(c *gin.Context) {
	proposal, err := h.service.RejectProposal(c.Request.Context(), c.Param("id"), auth.AccountID(c))
	if err != nil {
		respondMarketplaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func parsePage(c *gin.Context) (limit, offset int) {
	limit = 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func respondMarketplaceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrProposalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrProjectClosed), errors.Is(err, ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrOwnProject), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMilestoneSum):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
