package transactions

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/workpay/internal/auth"
	"github.com/mbd888/workpay/internal/pagination"
	"github.com/mbd888/workpay/internal/validation"
)

// ServiceHandlers provides HTTP handlers for the transaction lifecycle.
type ServiceHandlers struct {
	service *Service
}

// NewServiceHandlers creates transaction handlers.
func NewServiceHandlers(service *Service) *ServiceHandlers {
	return &ServiceHandlers{service: service}
}

// RegisterRoutes registers transaction endpoints on the given router group.
func (h *ServiceHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	txns := rg.Group("/transactions")
	txns.Use(auth.RequireAuth())
	{
		txns.POST("/payment-intent", h.createPaymentIntent)
		txns.POST("/confirm", h.confirm)
		txns.POST("/calculate-fees", h.calculateFees)
		txns.GET("/history", h.history)
		txns.GET("/:id", h.get)
		txns.POST("/:id/release", h.release)
		txns.POST("/:id/refund", h.refund)
		txns.POST("/:id/cancel", h.cancel)
	}
}

// RegisterAdminRoutes registers admin-only transaction endpoints.
func (h *ServiceHandlers) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/transactions/:id/release", h.adminRelease)
	rg.POST("/transactions/:id/refund", h.adminRefund)
	rg.POST("/transactions/:id/paid-out", h.markPaidOut)
}

type createIntentRequest struct {
	ContractID  string `json:"contractId" binding:"required"`
	MilestoneID string `json:"milestoneId"`
	Amount      int64  `json:"amount"`
}

func (h *ServiceHandlers) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	resp, err := h.service.CreatePaymentIntent(c.Request.Context(), auth.AccountID(c), CreateRequest{
		ContractID:  req.ContractID,
		MilestoneID: req.MilestoneID,
		Amount:      req.Amount,
	})
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction":  resp.Transaction,
		"clientSecret": resp.ClientSecret,
	})
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

func (h *ServiceHandlers) confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	txn, err := h.service.ConfirmPaymentBy(c.Request.Context(), req.PaymentIntentID, auth.AccountID(c), isAdminRequest(c))
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type calculateFeesRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *ServiceHandlers) calculateFees(c *gin.Context) {
	var req calculateFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := validation.Validate(validation.PositiveAmount("amount", req.Amount)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	breakdown, err := h.service.EstimateFees(c.Request.Context(), req.Amount)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (h *ServiceHandlers) get(c *gin.Context) {
	txn, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	if !isAdminRequest(c) && !txn.Participant(auth.AccountID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not a participant in this transaction"})
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *ServiceHandlers) history(c *gin.Context) {
	accountID := auth.AccountID(c)
	status := Status(c.Query("status"))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	var before time.Time
	var beforeID string
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "cursor could not be decoded"})
		return
	}
	if cursor != nil {
		before = cursor.CreatedAt
		beforeID = cursor.ID
	}

	// Fetch one extra row to detect whether another page exists.
	items, err := h.service.History(c.Request.Context(), accountID, status, before, beforeID, limit+1)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	page, next, hasMore := pagination.ComputePage(items, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"nextCursor":   next,
		"hasMore":      hasMore,
	})
}

func (h *ServiceHandlers) release(c *gin.Context) {
	txn, err := h.service.ReleaseEscrow(c.Request.Context(), c.Param("id"), auth.AccountID(c), false)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *ServiceHandlers) adminRelease(c *gin.Context) {
	txn, err := h.service.ReleaseEscrow(c.Request.Context(), c.Param("id"), auth.AccountID(c), true)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *ServiceHandlers) refund(c *gin.Context) {
	// Body is optional; a missing reason is fine.
	var req refundRequest
	_ = c.ShouldBindJSON(&req)
	txn, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), auth.AccountID(c), false, req.Reason)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *ServiceHandlers) adminRefund(c *gin.Context) {
	var req refundRequest
	_ = c.ShouldBindJSON(&req)
	txn, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), auth.AccountID(c), true, req.Reason)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *ServiceHandlers) cancel(c *gin.Context) {
	txn, err := h.service.CancelPayment(c.Request.Context(), c.Param("id"), auth.AccountID(c), false)
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *ServiceHandlers) markPaidOut(c *gin.Context) {
	txn, err := h.service.MarkPaidOut(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTransactionError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func isAdminRequest(c *gin.Context) bool {
	return c.GetString(auth.ContextKeyRole) == "admin"
}

func respondTransactionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "transaction not found"})
	case errors.Is(err, ErrContractNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "contract not found"})
	case errors.Is(err, ErrMilestoneNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "milestone not found"})
	case errors.Is(err, ErrMilestoneNotPayable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "milestone_not_payable", "message": "milestone is not approved for payment"})
	case errors.Is(err, ErrContractNotActive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "contract_not_active", "message": "contract is not active"})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not authorized for this transaction"})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": "transaction is in a terminal state"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": "transaction status does not allow this operation"})
	case errors.Is(err, ErrStaleVersion):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "transaction was modified concurrently, retry"})
	case errors.Is(err, ErrRefundWindowClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "refund_window_closed", "message": "refund window has expired"})
	case errors.Is(err, ErrNoPayoutDestination):
		c.JSON(http.StatusConflict, gin.H{"error": "no_payout_destination", "message": "freelancer has no payout account connected"})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
