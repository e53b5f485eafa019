package models

import (
	"fmt"
)

// MetricSnapshot is an append-only datapoint collected by the background
// metric collector.
type MetricSnapshot struct {
	ID          uint    `json:"-" gorm:"primaryKey"`
	ProjectID   string  `json:"projectId" gorm:"not null;type:varchar(128);uniqueIndex:idx_metric_snapshots_key,priority:1"`
	Timestamp   int64   `json:"timestamp" gorm:"not null;uniqueIndex:idx_metric_snapshots_key,priority:2"`
	ServiceName string  `json:"serviceName" gorm:"type:varchar(255);uniqueIndex:idx_metric_snapshots_key,priority:3"`
	MetricName  string  `json:"metricName" gorm:"type:varchar(255);uniqueIndex:idx_metric_snapshots_key,priority:4"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit" gorm:"type:varchar(64)"`
}

func (MetricSnapshot) TableName() string {
	return "metric_snapshots"
}

// SortKey orders snapshots by time first; service and metric disambiguate
// datapoints that share a timestamp.
func (m MetricSnapshot) SortKey() string {
	return fmt.Sprintf("%020d#%s#%s", m.Timestamp, m.ServiceName, m.MetricName)
}

// SeriesKey identifies the series a snapshot belongs to.
func (m MetricSnapshot) SeriesKey() string {
	return m.ServiceName + "/" + m.MetricName
}

// MetricTarget is one monitored series, e.g. service "orders" metric "cpu_usage".
type MetricTarget struct {
	ServiceName string `json:"serviceName"`
	MetricName  string `json:"metricName"`
	Unit        string `json:"unit,omitempty"`
}

func (t MetricTarget) String() string {
	return t.ServiceName + "/" + t.MetricName
}
