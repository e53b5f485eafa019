package models

import (
	"time"

	"gorm.io/gorm"
)

type Severity string

const (
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Rank orders severities so callers can filter with a minimum level.
func (s Severity) Rank() int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 1
	case SeverityWarn:
		return 2
	case SeverityError:
		return 3
	default:
		return -1
	}
}

// LogEntry is a raw log line shipped into the database by an external forwarder.
// It backs the database log source; the core never writes these rows.
type LogEntry struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	ProjectID string         `json:"projectId" gorm:"not null;index:idx_log_entries_project_ts,priority:1"`
	Timestamp time.Time      `json:"timestamp" gorm:"not null;index:idx_log_entries_project_ts,priority:2"`
	LogGroup  string         `json:"logGroup" gorm:"index"`
	LogStream string         `json:"logStream"`
	Message   string         `json:"message" gorm:"type:text"`
	CreatedAt time.Time      `json:"createdAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (LogEntry) TableName() string {
	return "log_entries"
}
