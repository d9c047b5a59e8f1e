// Package api provides the HTTP server for the evaluation service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "nexuseval/internal/api/v1"
	"nexuseval/internal/auth"
	internalconfig "nexuseval/internal/config"
	"nexuseval/internal/db/repositories"
	"nexuseval/internal/events"
	"nexuseval/internal/logging"
	"nexuseval/pkg/eval"
	"nexuseval/pkg/prompts"
)

type Server struct {
	cfg        *internalconfig.Config
	httpServer *http.Server
	repos      *repositories.Repositories

	authService  *auth.Service
	orchestrator *eval.Orchestrator
	tabular      *eval.TabularEvaluator
	registry     *prompts.Registry
	bus          *events.Bus
}

func New(
	cfg *internalconfig.Config,
	repos *repositories.Repositories,
	authService *auth.Service,
	orchestrator *eval.Orchestrator,
	tabular *eval.TabularEvaluator,
	registry *prompts.Registry,
	bus *events.Bus,
) *Server {
	return &Server{
		cfg:          cfg,
		repos:        repos,
		authService:  authService,
		orchestrator: orchestrator,
		tabular:      tabular,
		registry:     registry,
		bus:          bus,
	}
}

func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", s.healthCheck)

	apiGroup := router.Group("/api")
	handlers := v1.NewHandlers(s.repos, s.authService, s.orchestrator, s.tabular, s.registry, s.bus)
	handlers.RegisterRoutes(apiGroup)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.APIPort),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server error: %v", err)
		}
	}()
	logging.Info("API server listening on %s", s.httpServer.Addr)

	<-ctx.Done()

	logging.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "nexuseval-api",
	})
}
