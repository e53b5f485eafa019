package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

const (
	defaultFreshnessThreshold = 2 * time.Hour
	defaultWindow             = 24 * time.Hour
)

// ProcessingStats describes one ProcessLogs run.
type ProcessingStats struct {
	RunID             string              `json:"runId"`
	ProjectID         string              `json:"projectId"`
	State             FreshnessState      `json:"state"`
	Degraded          bool                `json:"degraded"`
	DegradedReason    string              `json:"degradedReason,omitempty"`
	WindowStart       *time.Time          `json:"windowStart,omitempty"`
	WindowEnd         *time.Time          `json:"windowEnd,omitempty"`
	EventsFetched     int                 `json:"eventsFetched"`
	SummariesUpdated  int                 `json:"summariesUpdated"`
	Embeddings        EmbeddingReport     `json:"embeddings"`
	PreviousWatermark int64               `json:"previousWatermark"`
	Watermark         int64               `json:"watermark"`
	Summaries         []models.LogSummary `json:"summaries"`
	Duration          time.Duration       `json:"duration"`

	// MetricCollection receives the background collector's report. It is nil
	// when no collection was started.
	MetricCollection <-chan CollectionReport `json:"-"`
}

type LogProcessorConfig struct {
	FreshnessThreshold time.Duration
	DefaultWindow      time.Duration
}

// LogProcessor is the freshness and merge controller: it decides how much of
// the log source to read, folds the result into the cached summaries and
// triggers the embedding and metric follow-ups.
type LogProcessor struct {
	projects   store.ProjectRepository
	store      store.Store
	source     LogSource
	embeddings *EmbeddingPipeline
	collector  *MetricCollector
	cfg        LogProcessorConfig
	now        func() time.Time
}

// NewLogProcessor wires the controller. embeddings and collector may be nil.
func NewLogProcessor(projects store.ProjectRepository, st store.Store, source LogSource, embeddings *EmbeddingPipeline, collector *MetricCollector, cfg LogProcessorConfig) *LogProcessor {
	if cfg.FreshnessThreshold <= 0 {
		cfg.FreshnessThreshold = defaultFreshnessThreshold
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = defaultWindow
	}
	return &LogProcessor{
		projects:   projects,
		store:      st,
		source:     source,
		embeddings: embeddings,
		collector:  collector,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Embeddings exposes the pipeline for similarity queries.
func (lp *LogProcessor) Embeddings() *EmbeddingPipeline {
	return lp.embeddings
}

// ProcessLogs brings the cached summaries of a project up to date.
//
// Source failures degrade the run: cached summaries are returned, the
// watermark stays put and no error is returned. Persistence failures are
// returned and also leave the watermark untouched.
func (lp *LogProcessor) ProcessLogs(ctx context.Context, projectID string) (_ *ProcessingStats, err error) {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "ProcessLogs", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("run_id", runID),
	))
	defer span.End()

	start := time.Now()
	log := logger.WithRun(projectID, runID)
	run := &ProcessingStats{RunID: runID, ProjectID: projectID}

	defer func() {
		run.Duration = time.Since(start)
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case run.Degraded:
			outcome = "degraded"
		case run.State == Fresh:
			outcome = "cached"
		}
		processingRunsTotal.WithLabelValues(string(run.State), outcome).Inc()
		processingDuration.WithLabelValues(string(run.State)).Observe(run.Duration.Seconds())
	}()

	project, err := lp.projects.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newProcessingError(ErrConfiguration, projectID, "load project", err)
	}
	if err != nil {
		return nil, newProcessingError(ErrPersistence, projectID, "load project", err)
	}
	if !project.Enabled {
		return nil, newProcessingError(ErrConfiguration, projectID, "load project", errors.New("project is disabled"))
	}

	// Metrics are collected on every trigger, whatever the freshness state
	// or the log source outcome.
	if lp.collector != nil {
		run.MetricCollection = lp.collector.Collect(ctx, *project)
	}

	now := lp.now()
	run.PreviousWatermark = project.LastProcessedTimestamp
	run.Watermark = project.LastProcessedTimestamp
	run.State = DecideFreshness(project.Watermark(), now, lp.cfg.FreshnessThreshold)
	span.SetAttributes(attribute.String("freshness", string(run.State)))

	if run.State == Fresh {
		cached, err := lp.store.ListSummaries(ctx, projectID)
		if err != nil {
			return nil, newProcessingError(ErrPersistence, projectID, "read cached summaries", err)
		}
		run.Summaries = cached
		log.WithField("summaries", len(cached)).Debug("Watermark is fresh, serving cached summaries")
		return run, nil
	}

	windowStart := now.Add(-lp.cfg.DefaultWindow)
	if run.State == StaleRecent {
		windowStart = project.Watermark()
	}
	run.WindowStart, run.WindowEnd = &windowStart, &now

	events, fetchErr := lp.source.FetchEvents(ctx, LogQuery{
		ProjectID:     projectID,
		LogGroups:     project.LogGroups,
		Start:         windowStart,
		End:           now,
		FilterPattern: project.FilterPattern,
	})
	if fetchErr != nil {
		fetchErr = newProcessingError(ErrSourceFetch, projectID, "fetch events", fetchErr)
		log.WithError(fetchErr).Warn("Log source unavailable, serving cached summaries")
		run.Degraded = true
		run.DegradedReason = fetchErr.Error()
		cached, err := lp.store.ListSummaries(ctx, projectID)
		if err != nil {
			return nil, newProcessingError(ErrPersistence, projectID, "read cached summaries", err)
		}
		run.Summaries = cached
		return run, nil
	}
	run.EventsFetched = len(events)

	normalized := make([]NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		normalized = append(normalized, Normalize(ev))
	}
	deltas := GroupEvents(projectID, normalized, now)

	updated := deltas
	if run.State == StaleRecent && len(deltas) > 0 {
		existing, err := lp.store.ListSummaries(ctx, projectID)
		if err != nil {
			return nil, newProcessingError(ErrPersistence, projectID, "read summaries for merge", err)
		}
		updated = MergeAll(existing, deltas)
	}

	if err := lp.store.PutSummaries(ctx, updated); err != nil {
		return nil, newProcessingError(ErrPersistence, projectID, "persist summaries", err)
	}
	if err := lp.projects.AdvanceWatermark(ctx, projectID, now.UnixMilli()); err != nil {
		return nil, newProcessingError(ErrPersistence, projectID, "advance watermark", err)
	}
	run.Watermark = now.UnixMilli()
	run.SummariesUpdated = len(updated)

	if lp.embeddings != nil && len(updated) > 0 {
		changed := lp.embeddings.ChangedSummaries(ctx, projectID, updated)
		run.Embeddings = lp.embeddings.EmbedSummaries(ctx, projectID, changed)
	}

	all, err := lp.store.ListSummaries(ctx, projectID)
	if err != nil {
		log.WithError(err).Warn("Failed to re-read summaries, returning this run's rows only")
		all = updated
	}
	run.Summaries = all

	log.WithFields(map[string]interface{}{
		"state":              run.State,
		"events":             run.EventsFetched,
		"summaries_updated":  run.SummariesUpdated,
		"embeddings_ok":      run.Embeddings.Succeeded,
		"embeddings_failed":  run.Embeddings.Failed,
		"previous_watermark": run.PreviousWatermark,
	}).Info("Log processing run completed")
	return run, nil
}
