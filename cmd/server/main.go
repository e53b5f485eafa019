package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autolog/logsentinel/internal/app"
	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/middleware"
	"github.com/autolog/logsentinel/internal/routes"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := config.Getenv("CORS_ORIGIN", "http://localhost:5173")

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func main() {
	logger.Initialize()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application", map[string]interface{}{"error": err.Error()})
	}
	a.Scheduler.Start()

	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, stopping background workers...", nil)
		close(stopChan)
	}()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	routes.SetupRoutes(r, routes.Dependencies{
		Store:        a.Store,
		Projects:     a.Projects,
		Processor:    a.Processor,
		Health:       a.Predictor,
		Similar:      a.Embeddings,
		Scheduler:    a.Scheduler,
		LLM:          a.LLM,
		JWTSecret:    cfg.JWTSecret,
		AuthDisabled: cfg.AuthDisabled,
		Ping:         a.Ping,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("Starting logsentinel server", map[string]interface{}{
		"port":     cfg.Port,
		"gin_mode": gin.Mode(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-stopChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := a.Close(); err != nil {
		logger.Error("Failed to close store", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Server exited gracefully", nil)
}
