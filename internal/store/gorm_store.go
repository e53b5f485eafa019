package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/autolog/logsentinel/internal/models"
)

const batchSize = 100

// embeddingRow is the Postgres shape of a LogEmbedding, with the vector in a
// pgvector column.
type embeddingRow struct {
	ProjectID   string          `gorm:"primaryKey;type:varchar(128)"`
	SummaryID   string          `gorm:"primaryKey;type:varchar(512)"`
	Embedding   pgvector.Vector `gorm:"type:vector"`
	Model       string          `gorm:"type:varchar(128)"`
	ContentHash string          `gorm:"type:char(64)"`
	CreatedAt   time.Time
}

func (embeddingRow) TableName() string {
	return "log_embeddings"
}

func (r embeddingRow) toModel() models.LogEmbedding {
	return models.LogEmbedding{
		ProjectID:   r.ProjectID,
		SummaryID:   r.SummaryID,
		Embedding:   r.Embedding.Slice(),
		Model:       r.Model,
		ContentHash: r.ContentHash,
		CreatedAt:   r.CreatedAt,
	}
}

// GormStore implements Store and ProjectRepository on Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Models lists the row types this store needs migrated besides the plain models.
func (s *GormStore) Models() []interface{} {
	return []interface{}{&embeddingRow{}}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) GetSummary(ctx context.Context, projectID, summaryID string) (*models.LogSummary, error) {
	var summary models.LogSummary
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND summary_id = ?", projectID, summaryID).
		First(&summary).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &summary, nil
}

func (s *GormStore) ListSummaries(ctx context.Context, projectID string) ([]models.LogSummary, error) {
	var summaries []models.LogSummary
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("summary_id").
		Find(&summaries).Error
	return summaries, err
}

func (s *GormStore) PutSummaries(ctx context.Context, summaries []models.LogSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&summaries, batchSize).Error
}

func (s *GormStore) GetEmbedding(ctx context.Context, projectID, summaryID string) (*models.LogEmbedding, error) {
	var row embeddingRow
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND summary_id = ?", projectID, summaryID).
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	e := row.toModel()
	return &e, nil
}

func (s *GormStore) ListEmbeddings(ctx context.Context, projectID string) ([]models.LogEmbedding, error) {
	var rows []embeddingRow
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("summary_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.LogEmbedding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) PutEmbedding(ctx context.Context, e models.LogEmbedding) error {
	row := embeddingRow{
		ProjectID:   e.ProjectID,
		SummaryID:   e.SummaryID,
		Embedding:   pgvector.NewVector(e.Embedding),
		Model:       e.Model,
		ContentHash: e.ContentHash,
		CreatedAt:   e.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) PutMetricSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"}, {Name: "timestamp"}, {Name: "service_name"}, {Name: "metric_name"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "unit"}),
		}).
		CreateInBatches(&snapshots, batchSize).Error
}

func (s *GormStore) ListMetricSnapshots(ctx context.Context, projectID string, since int64) ([]models.MetricSnapshot, error) {
	var snapshots []models.MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND timestamp >= ?", projectID, since).
		Order("timestamp, service_name, metric_name").
		Find(&snapshots).Error
	return snapshots, err
}

func (s *GormStore) PutPrediction(ctx context.Context, prediction *models.PredictionResult) error {
	return s.db.WithContext(ctx).Create(prediction).Error
}

func (s *GormStore) LatestPrediction(ctx context.Context, projectID string) (*models.PredictionResult, error) {
	var prediction models.PredictionResult
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("timestamp DESC").
		First(&prediction).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &prediction, nil
}

func (s *GormStore) GetProject(ctx context.Context, projectID string) (*models.ProjectState, error) {
	var project models.ProjectState
	if err := s.db.WithContext(ctx).First(&project, "project_id = ?", projectID).Error; err != nil {
		return nil, notFound(err)
	}
	return &project, nil
}

func (s *GormStore) ListProjects(ctx context.Context) ([]models.ProjectState, error) {
	var projects []models.ProjectState
	err := s.db.WithContext(ctx).Order("project_id").Find(&projects).Error
	return projects, err
}

func (s *GormStore) SaveProject(ctx context.Context, project *models.ProjectState) error {
	return s.db.WithContext(ctx).Save(project).Error
}

func (s *GormStore) AdvanceWatermark(ctx context.Context, projectID string, timestamp int64) error {
	res := s.db.WithContext(ctx).
		Model(&models.ProjectState{}).
		Where("project_id = ? AND last_processed_timestamp < ?", projectID, timestamp).
		Update("last_processed_timestamp", timestamp)
	if res.Error != nil {
		return fmt.Errorf("advance watermark: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// Nothing updated: either the project is missing or the watermark is already newer.
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
