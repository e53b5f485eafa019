// Package store persists summaries, embeddings, metric snapshots, predictions
// and project state. Every entity is keyed by (projectId, sortKey); range reads
// are always scoped to one project and ordered by sort key.
package store

import (
	"context"
	"errors"

	"github.com/autolog/logsentinel/internal/models"
)

var ErrNotFound = errors.New("not found")

var (
	_ Store             = (*BadgerStore)(nil)
	_ ProjectRepository = (*BadgerStore)(nil)
	_ Store             = (*GormStore)(nil)
	_ ProjectRepository = (*GormStore)(nil)
)

type Store interface {
	GetSummary(ctx context.Context, projectID, summaryID string) (*models.LogSummary, error)
	ListSummaries(ctx context.Context, projectID string) ([]models.LogSummary, error)
	PutSummaries(ctx context.Context, summaries []models.LogSummary) error

	GetEmbedding(ctx context.Context, projectID, summaryID string) (*models.LogEmbedding, error)
	ListEmbeddings(ctx context.Context, projectID string) ([]models.LogEmbedding, error)
	PutEmbedding(ctx context.Context, embedding models.LogEmbedding) error

	PutMetricSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error
	// ListMetricSnapshots returns snapshots with Timestamp >= since, oldest first.
	ListMetricSnapshots(ctx context.Context, projectID string, since int64) ([]models.MetricSnapshot, error)

	PutPrediction(ctx context.Context, prediction *models.PredictionResult) error
	LatestPrediction(ctx context.Context, projectID string) (*models.PredictionResult, error)

	Close() error
}

// ProjectRepository is the project configuration collaborator.
type ProjectRepository interface {
	GetProject(ctx context.Context, projectID string) (*models.ProjectState, error)
	ListProjects(ctx context.Context) ([]models.ProjectState, error)
	SaveProject(ctx context.Context, project *models.ProjectState) error
	// AdvanceWatermark moves LastProcessedTimestamp forward; an older
	// timestamp than the stored one is ignored.
	AdvanceWatermark(ctx context.Context, projectID string, timestamp int64) error
}

// ListEnabledProjects filters ListProjects down to the enabled ones.
func ListEnabledProjects(ctx context.Context, repo ProjectRepository) ([]models.ProjectState, error) {
	projects, err := repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]models.ProjectState, 0, len(projects))
	for _, p := range projects {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}
