package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// ProjectState is owned by the project configuration collaborator. The core
// only reads it and advances LastProcessedTimestamp after a successful run.
type ProjectState struct {
	ProjectID              string         `json:"projectId" gorm:"primaryKey;type:varchar(128)"`
	Name                   string         `json:"name"`
	Enabled                bool           `json:"enabled" gorm:"default:true"`
	LastProcessedTimestamp int64          `json:"lastProcessedTimestamp"`
	LogGroups              pq.StringArray `json:"logGroups" gorm:"type:text[]"`
	MetricTargets          pq.StringArray `json:"metricTargets" gorm:"type:text[]"` // "service/metric"
	FilterPattern          string         `json:"filterPattern"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

func (ProjectState) TableName() string {
	return "projects"
}

// Watermark returns the last processed time, or the zero time if the project
// was never processed.
func (p ProjectState) Watermark() time.Time {
	if p.LastProcessedTimestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.LastProcessedTimestamp)
}

// Targets parses MetricTargets entries of the form "service/metric".
// Entries without a service are attributed to the project itself.
func (p ProjectState) Targets() []MetricTarget {
	targets := make([]MetricTarget, 0, len(p.MetricTargets))
	for _, raw := range p.MetricTargets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		service, metric, ok := strings.Cut(raw, "/")
		if !ok {
			service, metric = p.ProjectID, raw
		}
		targets = append(targets, MetricTarget{ServiceName: service, MetricName: metric})
	}
	return targets
}
