package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// Middleware provides API key authentication for the HTTP surface
type Middleware struct {
	service *Service
}

func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// Authenticate validates the API key and stores the tenant on the context.
// SSE clients cannot set headers, so a query parameter fallback is accepted.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(apiKeyHeader)
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
			c.Abort()
			return
		}

		tenant := m.service.Validate(apiKey)
		if tenant == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or inactive API key"})
			c.Abort()
			return
		}

		c.Set("tenant", tenant)
		c.Set("tenant_id", tenant.AppID)
		c.Next()
	}
}

// RequireAdmin ensures the authenticated tenant is the admin
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, exists := c.Get("tenant_id")
		if !exists || !m.service.IsAdmin(tenantID.(string)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// TenantFromContext extracts the authenticated tenant from the Gin context
func TenantFromContext(c *gin.Context) (*TenantInfo, bool) {
	tenant, exists := c.Get("tenant")
	if !exists {
		return nil, false
	}
	info, ok := tenant.(*TenantInfo)
	return info, ok
}
