package services

import (
	"context"
	"time"

	"github.com/autolog/logsentinel/internal/models"
)

// RawEvent is one line returned by the log source.
type RawEvent struct {
	Timestamp time.Time
	Message   string
	LogGroup  string
	LogStream string
	Labels    map[string]string
}

type LogQuery struct {
	ProjectID     string
	LogGroups     []string
	Start         time.Time
	End           time.Time
	FilterPattern string
}

// LogSource fetches raw events in a time range, optionally filtered by a pattern.
type LogSource interface {
	FetchEvents(ctx context.Context, query LogQuery) ([]RawEvent, error)
}

type Datapoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricSource lists the available series of a project and fetches their datapoints.
type MetricSource interface {
	ListSeries(ctx context.Context, projectID string) ([]models.MetricTarget, error)
	FetchDatapoints(ctx context.Context, projectID string, target models.MetricTarget, start, end time.Time) ([]Datapoint, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	EmbeddingModel() string
}

// Summarizer produces a short narrative for a prompt. schema, when not nil, is
// the JSON schema the response must follow.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, schema map[string]interface{}) (string, error)
}
