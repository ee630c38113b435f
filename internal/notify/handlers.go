package notify

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/workpay/internal/auth"
	"github.com/mbd888/workpay/internal/idgen"
	"github.com/mbd888/workpay/internal/security"
)

// Handler provides HTTP endpoints for subscription management.
type Handler struct {
	store Store
}

// NewHandler creates a subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers subscription endpoints. All routes require auth;
// subscriptions belong to the calling account.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	subs := rg.Group("/subscriptions")
	subs.Use(auth.RequireAuth())
	{
		subs.POST("", h.create)
		subs.GET("", h.list)
		subs.DELETE("/:id", h.delete)
	}
}

type createSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

func (h *Handler) create(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "at least one event type is required"})
		return
	}
	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		et := EventType(e)
		if !KnownEvent(et) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event", "message": "unknown event type: " + e})
			return
		}
		events[i] = et
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:        idgen.WithPrefix(idgen.PrefixSubscription),
		AccountID: auth.AccountID(c),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret, // shown once
		"usage": gin.H{
			"signature": "verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Workpay-Signature",
		},
	})
}

func (h *Handler) list(c *gin.Context) {
	subs, err := h.store.GetByAccount(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *Handler) delete(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": "failed to delete subscription"})
		return
	}
	if sub.AccountID != auth.AccountID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "subscription belongs to another account"})
		return
	}
	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": "failed to delete subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
