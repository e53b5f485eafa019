package sources

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/services"
)

const maxDatabaseEvents = 100000

// DatabaseSource reads log_entries rows written by an external forwarder.
type DatabaseSource struct {
	db *gorm.DB
}

func NewDatabaseSource(db *gorm.DB) *DatabaseSource {
	return &DatabaseSource{db: db}
}

// FetchEvents returns the entries of the window ordered by timestamp. The
// filter pattern is a regular expression matched in Postgres.
func (s *DatabaseSource) FetchEvents(ctx context.Context, q services.LogQuery) ([]services.RawEvent, error) {
	query := s.db.WithContext(ctx).
		Model(&models.LogEntry{}).
		Where("project_id = ? AND timestamp >= ? AND timestamp <= ?", q.ProjectID, q.Start, q.End)
	if len(q.LogGroups) > 0 {
		query = query.Where("log_group IN ?", q.LogGroups)
	}
	if q.FilterPattern != "" {
		if _, err := regexp.Compile(q.FilterPattern); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		query = query.Where("message ~ ?", q.FilterPattern)
	}

	var entries []models.LogEntry
	if err := query.Order("timestamp ASC").Limit(maxDatabaseEvents).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	events := make([]services.RawEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, services.RawEvent{
			Timestamp: e.Timestamp,
			Message:   e.Message,
			LogGroup:  e.LogGroup,
			LogStream: e.LogStream,
		})
	}
	return events, nil
}
