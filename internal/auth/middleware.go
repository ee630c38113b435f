package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing the API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAccountID is the key for the authenticated account ID
	ContextKeyAccountID = "authAccountID"
	// ContextKeyRole is the key for the authenticated account's role
	ContextKeyRole = "authRole"
)

// Middleware extracts and validates the API key from the request.
// Sets apiKey, authAccountID, and authRole in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAccountID, key.AccountID)
				c.Set(ContextKeyRole, key.Role)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole middleware requires auth AND the given role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if c.GetString(ContextKeyRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Insufficient permissions.",
			})
			return
		}
		c.Next()
	}
}

// AdminSecretMiddleware grants the admin role to requests carrying the
// configured admin secret. Used for bootstrap before any admin account
// exists; a no-op when the secret is unset.
func AdminSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			provided := c.GetHeader("X-Admin-Secret")
			if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1 {
				c.Set(ContextKeyAPIKey, &APIKey{ID: "admin_secret", Role: "admin"})
				c.Set(ContextKeyAccountID, "admin_secret")
				c.Set(ContextKeyRole, "admin")
			}
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated).
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// AccountID returns the authenticated account's ID.
func AccountID(c *gin.Context) string {
	return c.GetString(ContextKeyAccountID)
}

// IsAuthenticated checks if the request is authenticated.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
