package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nexuseval/internal/auth"
)

type registerRequest struct {
	AppName    string `json:"app_name" binding:"required"`
	OwnerEmail string `json:"owner_email"`
}

func (h *Handlers) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "app_name is required")
		return
	}
	creds, err := h.authService.Register(req.AppName, req.OwnerEmail)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, creds)
}

// login validates a key and echoes the tenant identity. The key itself
// travels in the auth header like everywhere else.
func (h *Handlers) login(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
		return
	}
	tenant := h.authService.Validate(apiKey)
	if tenant == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or inactive API key"})
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (h *Handlers) rotateKey(c *gin.Context) {
	tenant, ok := auth.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	newKey, err := h.authService.RotateKey(tenant.AppID)
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": tenant.AppID, "api_key": newKey})
}

func (h *Handlers) listApplications(c *gin.Context) {
	apps, err := h.authService.List()
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

func (h *Handlers) deactivateApplication(c *gin.Context) {
	appID := c.Param("id")
	if !h.authService.Deactivate(appID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "application not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "is_active": false})
}
