package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/services"
	"github.com/autolog/logsentinel/internal/store"
)

// ProjectProcessor runs one processing pass.
type ProjectProcessor interface {
	ProcessLogs(ctx context.Context, projectID string) (*services.ProcessingStats, error)
}

type HealthSource interface {
	GetHealth(ctx context.Context, projectID string) (*models.PredictionResult, error)
}

type SimilarityFinder interface {
	SimilarSummaries(ctx context.Context, projectID, summaryID string, topN int) ([]services.SimilarSummary, error)
}

// Trigger queues a background run.
type Trigger interface {
	Trigger(projectID string) bool
}

type ProjectController struct {
	store     store.Store
	projects  store.ProjectRepository
	processor ProjectProcessor
	health    HealthSource
	similar   SimilarityFinder
	scheduler Trigger
}

func NewProjectController(st store.Store, projects store.ProjectRepository, processor ProjectProcessor, health HealthSource, similar SimilarityFinder, scheduler Trigger) *ProjectController {
	return &ProjectController{
		store:     st,
		projects:  projects,
		processor: processor,
		health:    health,
		similar:   similar,
		scheduler: scheduler,
	}
}

type ProjectRequest struct {
	Name          string   `json:"name"`
	Enabled       *bool    `json:"enabled"`
	LogGroups     []string `json:"logGroups"`
	MetricTargets []string `json:"metricTargets"`
	FilterPattern string   `json:"filterPattern"`
}

// errorStatus maps processing errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusConflict
	case errors.Is(err, services.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	status := errorStatus(err)
	entry := logger.WithError(err, "project_controller").WithField("project_id", c.Param("id"))
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Warn(message)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"message": err.Error(),
	})
}

// ListProjects returns every configured project
func (pc *ProjectController) ListProjects(c *gin.Context) {
	projects, err := pc.projects.ListProjects(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list projects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (pc *ProjectController) GetProject(c *gin.Context) {
	project, err := pc.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Project not found")
		return
	}
	c.JSON(http.StatusOK, project)
}

// SaveProject creates or updates a project. The watermark is never set here.
func (pc *ProjectController) SaveProject(c *gin.Context) {
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	project, err := pc.projects.GetProject(ctx, id)
	created := errors.Is(err, store.ErrNotFound)
	switch {
	case created:
		project = &models.ProjectState{ProjectID: id, Enabled: true}
	case err != nil:
		respondError(c, err, "Failed to load project")
		return
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Enabled != nil {
		project.Enabled = *req.Enabled
	}
	if req.LogGroups != nil {
		project.LogGroups = req.LogGroups
	}
	if req.MetricTargets != nil {
		project.MetricTargets = req.MetricTargets
	}
	project.FilterPattern = req.FilterPattern

	if err := pc.projects.SaveProject(ctx, project); err != nil {
		respondError(c, err, "Failed to save project")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, project)
}

// ProcessLogs runs a processing pass synchronously and returns its stats.
func (pc *ProjectController) ProcessLogs(c *gin.Context) {
	stats, err := pc.processor.ProcessLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Processing failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TriggerProcessing queues a background run and returns immediately.
func (pc *ProjectController) TriggerProcessing(c *gin.Context) {
	id := c.Param("id")
	if _, err := pc.projects.GetProject(c.Request.Context(), id); err != nil {
		respondError(c, err, "Project not found")
		return
	}
	if !pc.scheduler.Trigger(id) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "A run for this project is already pending"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "projectId": id})
}

func (pc *ProjectController) GetHealth(c *gin.Context) {
	prediction, err := pc.health.GetHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Health prediction failed")
		return
	}
	c.JSON(http.StatusOK, prediction)
}

// GetSummaries returns the cached summaries, optionally filtered by a
// minimum severity.
func (pc *ProjectController) GetSummaries(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := pc.projects.GetProject(ctx, id); err != nil {
		respondError(c, err, "Project not found")
		return
	}

	summaries, err := pc.store.ListSummaries(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to load summaries")
		return
	}

	if minSeverity := strings.ToUpper(c.Query("minSeverity")); minSeverity != "" {
		floor := models.Severity(minSeverity).Rank()
		filtered := summaries[:0]
		for _, s := range summaries {
			if s.Severity.Rank() >= floor {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}
	c.JSON(http.StatusOK, gin.H{"projectId": id, "summaries": summaries})
}

func (pc *ProjectController) GetSimilarSummaries(c *gin.Context) {
	top, err := strconv.Atoi(c.DefaultQuery("top", "5"))
	if err != nil || top <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid top parameter"})
		return
	}

	similar, err := pc.similar.SimilarSummaries(c.Request.Context(), c.Param("id"), c.Param("summaryId"), top)
	if err != nil {
		respondError(c, err, "No embedding for this summary")
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": similar})
}
