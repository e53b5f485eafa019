package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autolog/logsentinel/internal/controllers"
	"github.com/autolog/logsentinel/internal/middleware"
	"github.com/autolog/logsentinel/internal/services"
	"github.com/autolog/logsentinel/internal/store"
)

// Dependencies are the services the HTTP API exposes.
type Dependencies struct {
	Store        store.Store
	Projects     store.ProjectRepository
	Processor    controllers.ProjectProcessor
	Health       controllers.HealthSource
	Similar      controllers.SimilarityFinder
	Scheduler    controllers.Trigger
	LLM          services.LLMClient
	JWTSecret    string
	AuthDisabled bool
	// Ping checks the backing store for the liveness endpoint. Optional.
	Ping func(ctx context.Context) error
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	projectController := controllers.NewProjectController(deps.Store, deps.Projects, deps.Processor, deps.Health, deps.Similar, deps.Scheduler)

	r.GET("/health", healthHandler(deps.Ping))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.JWTSecret, deps.AuthDisabled))
	{
		projects := api.Group("/projects")
		{
			projects.GET("", projectController.ListProjects)
			projects.GET("/:id", projectController.GetProject)
			projects.PUT("/:id", projectController.SaveProject)
			projects.POST("/:id/process", projectController.ProcessLogs)
			projects.POST("/:id/trigger", projectController.TriggerProcessing)
			projects.GET("/:id/health", projectController.GetHealth)
			projects.GET("/:id/summaries", projectController.GetSummaries)
			projects.GET("/:id/summaries/:summaryId/similar", projectController.GetSimilarSummaries)
		}

		if deps.LLM != nil {
			llmController := controllers.NewLLMController(deps.LLM)
			llm := api.Group("/llm")
			{
				llm.GET("/status", llmController.GetLLMStatus)
				llm.GET("/api-calls", llmController.GetLLMAPICalls)
				llm.DELETE("/api-calls", llmController.ClearLLMAPICalls)
			}
		}
	}
}

func healthHandler(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeStatus := "ok"
		var storeError string
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				storeStatus = "error"
				storeError = err.Error()
			}
		}

		overallStatus := "ok"
		statusCode := http.StatusOK
		if storeStatus != "ok" {
			overallStatus = "error"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services": gin.H{
				"store": gin.H{
					"status": storeStatus,
					"error":  storeError,
				},
			},
		})
	}
}
