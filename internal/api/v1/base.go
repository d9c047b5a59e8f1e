// Package v1 holds the versioned HTTP handlers.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nexuseval/internal/auth"
	"nexuseval/internal/db/repositories"
	"nexuseval/internal/events"
	"nexuseval/pkg/eval"
	"nexuseval/pkg/prompts"
)

type Handlers struct {
	repos        *repositories.Repositories
	authService  *auth.Service
	middleware   *auth.Middleware
	orchestrator *eval.Orchestrator
	tabular      *eval.TabularEvaluator
	registry     *prompts.Registry
	bus          *events.Bus
}

func NewHandlers(
	repos *repositories.Repositories,
	authService *auth.Service,
	orchestrator *eval.Orchestrator,
	tabular *eval.TabularEvaluator,
	registry *prompts.Registry,
	bus *events.Bus,
) *Handlers {
	return &Handlers{
		repos:        repos,
		authService:  authService,
		middleware:   auth.NewMiddleware(authService),
		orchestrator: orchestrator,
		tabular:      tabular,
		registry:     registry,
		bus:          bus,
	}
}

func (h *Handlers) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/register", h.register)
	group.POST("/login", h.login)

	authed := group.Group("")
	authed.Use(h.middleware.Authenticate())
	{
		authed.POST("/rotate-key", h.rotateKey)

		authed.POST("/evaluate-from-json", h.evaluateFromJSON)
		authed.POST("/evaluate-from-paths", h.evaluateFromPaths)
		authed.POST("/run-batch", h.runBatch)
		authed.POST("/evaluate-dataset", h.evaluateDataset)

		authed.GET("/results", h.listResults)
		authed.GET("/results/latest", h.latestResult)
		authed.GET("/results/:id", h.resultByID)

		authed.GET("/events", h.streamEvents)

		authed.GET("/prompts", h.listPrompts)
		authed.GET("/prompts/:key", h.getPrompt)
		authed.PUT("/prompts/:key", h.updatePrompt)

		authed.POST("/feedback", h.submitFeedback)

		admin := authed.Group("")
		admin.Use(h.middleware.RequireAdmin())
		{
			admin.GET("/applications", h.listApplications)
			admin.DELETE("/applications/:id", h.deactivateApplication)
			admin.GET("/feedback", h.listFeedback)
			admin.PUT("/feedback/:id/response", h.respondFeedback)
		}
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func internalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
