package models

import (
	"time"

	"gorm.io/datatypes"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Where the narrative of a prediction came from.
const (
	PredictionSourceLLM         = "llm"
	PredictionSourceStatistical = "statistical"
	PredictionSourceCache       = "cache"
	PredictionSourceNoData      = "no_data"
)

const NoDataSummary = "no data yet"

type PredictionResult struct {
	ID                uint                        `json:"-" gorm:"primaryKey"`
	ProjectID         string                      `json:"projectId" gorm:"not null;type:varchar(128);index:idx_predictions_project_ts,priority:1"`
	Timestamp         int64                       `json:"timestamp" gorm:"not null;index:idx_predictions_project_ts,priority:2,sort:desc"`
	RiskLevel         RiskLevel                   `json:"riskLevel" gorm:"type:varchar(16)"`
	Summary           string                      `json:"summary" gorm:"type:text"`
	Recommendations   datatypes.JSONSlice[string] `json:"recommendations" gorm:"type:jsonb"`
	FailureLikelihood float64                     `json:"failureLikelihood"`
	Timeframe         string                      `json:"timeframe"`
	NoData            bool                        `json:"noData"`
	Source            string                      `json:"source" gorm:"type:varchar(32)"`
}

func (PredictionResult) TableName() string {
	return "prediction_results"
}

func (p PredictionResult) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// NewNoDataPrediction is served when nothing has been processed for a project yet.
func NewNoDataPrediction(projectID string, now time.Time) *PredictionResult {
	return &PredictionResult{
		ProjectID:         projectID,
		Timestamp:         now.UnixMilli(),
		RiskLevel:         RiskLow,
		Summary:           NoDataSummary,
		Recommendations:   datatypes.JSONSlice[string]{},
		FailureLikelihood: 0,
		Timeframe:         "unknown",
		NoData:            true,
		Source:            PredictionSourceNoData,
	}
}
