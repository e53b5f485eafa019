package models

import (
	"time"
)

// LogSummary is the deduplicated view of one (service, signature, severity) key
// inside a project. SummaryID is derived from that key only, so replays of the
// same window land on the same row.
type LogSummary struct {
	ProjectID          string    `json:"projectId" gorm:"primaryKey;type:varchar(128)"`
	SummaryID          string    `json:"summaryId" gorm:"primaryKey;type:varchar(512)"`
	Service            string    `json:"service" gorm:"type:varchar(255);index"`
	ErrorSignature     string    `json:"errorSignature" gorm:"type:text"`
	Severity           Severity  `json:"severity" gorm:"type:varchar(16)"`
	Occurrences        int64     `json:"occurrences"`
	FirstSeenTimestamp int64     `json:"firstSeenTimestamp"`
	LastSeenTimestamp  int64     `json:"lastSeenTimestamp"`
	TrendScore         float64   `json:"trendScore"`
	SampleMessage      string    `json:"sampleMessage" gorm:"type:text"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (LogSummary) TableName() string {
	return "log_summaries"
}

// WindowMinutes is the observed span of the summary in minutes, without the
// one-minute floor applied by the trend score.
func (s LogSummary) WindowMinutes() float64 {
	return float64(s.LastSeenTimestamp-s.FirstSeenTimestamp) / float64(time.Minute/time.Millisecond)
}

// LogEmbedding holds the vector for one summary. SummaryID is a lookup-only
// reference; an embedding may outlive its summary.
type LogEmbedding struct {
	ProjectID   string    `json:"projectId"`
	SummaryID   string    `json:"summaryId"`
	Embedding   []float32 `json:"embedding"`
	Model       string    `json:"model"`
	ContentHash string    `json:"contentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}
