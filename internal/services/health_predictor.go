package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

const (
	defaultMetricWindow   = time.Hour
	defaultSummaryTimeout = 10 * time.Second
	defaultPredictionTTL  = 5 * time.Minute
)

type HealthPredictorConfig struct {
	MetricWindow   time.Duration
	SummaryTimeout time.Duration
	PredictionTTL  time.Duration
	Policy         ThresholdPolicy
}

// HealthPredictor serves risk predictions from cached data only. It never
// reaches the log or metric sources.
type HealthPredictor struct {
	store      store.Store
	projects   store.ProjectRepository
	summarizer Summarizer
	cfg        HealthPredictorConfig
	now        func() time.Time
}

// NewHealthPredictor builds a predictor. summarizer may be nil, in which case
// every narrative is statistical.
func NewHealthPredictor(st store.Store, projects store.ProjectRepository, summarizer Summarizer, cfg HealthPredictorConfig) *HealthPredictor {
	if cfg.MetricWindow <= 0 {
		cfg.MetricWindow = defaultMetricWindow
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryTimeout
	}
	if cfg.PredictionTTL <= 0 {
		cfg.PredictionTTL = defaultPredictionTTL
	}
	if cfg.Policy == nil {
		cfg.Policy = AbsolutePolicy{Base: Thresholds{ErrorTrend: 0.5, WarnTrend: 1.0, MetricTrend: 0.2}}
	}
	return &HealthPredictor{
		store:      st,
		projects:   projects,
		summarizer: summarizer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// GetHealth returns the current prediction for a project. Only an unknown
// project is an error; read failures degrade to the last known prediction or
// a no-data result.
func (h *HealthPredictor) GetHealth(ctx context.Context, projectID string) (*models.PredictionResult, error) {
	ctx, span := tracer.Start(ctx, "GetHealth", trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	log := logger.WithProject(projectID, "health_predictor")
	now := h.now()

	project, err := h.projects.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newProcessingError(ErrConfiguration, projectID, "get health", err)
	}
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Warn("Project lookup failed, serving last known prediction")
		return h.lastKnown(ctx, projectID, now), nil
	}

	latest, latestErr := h.store.LatestPrediction(ctx, projectID)
	if latestErr == nil && h.cacheValid(latest, project, now) {
		cached := *latest
		cached.Source = models.PredictionSourceCache
		span.SetAttributes(attribute.Bool("cache_hit", true))
		predictionRiskTotal.WithLabelValues(string(cached.RiskLevel), cached.Source).Inc()
		return &cached, nil
	}

	summaries, err := h.store.ListSummaries(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Warn("Summary read failed, serving last known prediction")
		if latestErr == nil {
			return latest, nil
		}
		return models.NewNoDataPrediction(projectID, now), nil
	}
	if len(summaries) == 0 && project.LastProcessedTimestamp <= 0 {
		return models.NewNoDataPrediction(projectID, now), nil
	}

	snapshots, err := h.store.ListMetricSnapshots(ctx, projectID, now.Add(-h.cfg.MetricWindow).UnixMilli())
	if err != nil {
		log.WithError(err).Warn("Metric snapshot read failed, predicting from logs only")
		snapshots = nil
	}

	thresholds := h.cfg.Policy.Thresholds(summaries)
	trends := ComputeMetricTrends(snapshots, thresholds.MetricTrend)
	signals := ComputeSignals(summaries, trends)
	risk, rule := DeriveRisk(signals, thresholds)
	likelihood := FailureLikelihood(signals.ErrorCount, signals.ErrorTrend, OverallDirection(trends))

	result := &models.PredictionResult{
		ProjectID:         projectID,
		Timestamp:         now.UnixMilli(),
		RiskLevel:         risk,
		FailureLikelihood: likelihood,
		Timeframe:         RiskTimeframe(risk),
	}
	h.narrate(ctx, result, signals, summaries)

	span.SetAttributes(
		attribute.String("risk_level", string(risk)),
		attribute.String("rule", rule),
		attribute.String("source", result.Source),
	)

	if err := h.store.PutPrediction(ctx, result); err != nil {
		log.WithError(err).Warn("Failed to persist prediction")
	}
	predictionRiskTotal.WithLabelValues(string(result.RiskLevel), result.Source).Inc()

	log.WithFields(map[string]interface{}{
		"risk_level": risk,
		"rule":       rule,
		"likelihood": likelihood,
		"source":     result.Source,
	}).Info("Health prediction computed")
	return result, nil
}

// cacheValid accepts a stored prediction made after the last processing run
// and within the TTL.
func (h *HealthPredictor) cacheValid(p *models.PredictionResult, project *models.ProjectState, now time.Time) bool {
	if p.NoData {
		return false
	}
	return p.Timestamp > project.LastProcessedTimestamp && now.Sub(p.Time()) < h.cfg.PredictionTTL
}

func (h *HealthPredictor) lastKnown(ctx context.Context, projectID string, now time.Time) *models.PredictionResult {
	if p, err := h.store.LatestPrediction(ctx, projectID); err == nil {
		return p
	}
	return models.NewNoDataPrediction(projectID, now)
}

// narrate fills summary and recommendations, from the summarizer when it
// answers in time with a usable narrative, statistically otherwise.
func (h *HealthPredictor) narrate(ctx context.Context, result *models.PredictionResult, signals RiskSignals, summaries []models.LogSummary) {
	if h.summarizer != nil {
		narrative, err := h.askSummarizer(ctx, result, signals, summaries)
		if err == nil {
			result.Summary = narrative.Summary
			result.Recommendations = datatypes.JSONSlice[string](narrative.Recommendations)
			if narrative.Timeframe != "" {
				result.Timeframe = narrative.Timeframe
			}
			result.Source = models.PredictionSourceLLM
			return
		}
		logger.WithError(err, "health_predictor").WithField("project_id", result.ProjectID).
			Warn("Summarizer unavailable, using statistical narrative")
	}

	summary, recs := statisticalNarrative(result.RiskLevel, signals, summaries)
	result.Summary = summary
	result.Recommendations = datatypes.JSONSlice[string](recs)
	result.Source = models.PredictionSourceStatistical
}

func (h *HealthPredictor) askSummarizer(ctx context.Context, result *models.PredictionResult, signals RiskSignals, summaries []models.LogSummary) (*PredictionNarrative, error) {
	sctx, cancel := context.WithTimeout(ctx, h.cfg.SummaryTimeout)
	defer cancel()

	prompt := buildPredictionPrompt(result.ProjectID, result.RiskLevel, result.FailureLikelihood, signals, summaries)

	type answer struct {
		text string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		text, err := h.summarizer.Summarize(sctx, prompt, predictionNarrativeSchema)
		done <- answer{text, err}
	}()

	// The deadline is enforced here too, for summarizers that ignore ctx.
	select {
	case <-sctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrSummarization, sctx.Err())
	case a := <-done:
		if a.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSummarization, a.err)
		}
		return parseNarrative(a.text)
	}
}

func statisticalNarrative(risk models.RiskLevel, signals RiskSignals, summaries []models.LogSummary) (string, []string) {
	top := topSummaries(summaries, 3)
	summary := fmt.Sprintf("%s risk: %d error and %d warning occurrences across %d signatures.",
		risk, signals.ErrorCount, signals.WarnCount, len(summaries))
	if len(top) > 0 && top[0].Severity == models.SeverityError {
		summary += fmt.Sprintf(" Top error: %s in %s (%d occurrences, %.2f/min).",
			top[0].ErrorSignature, top[0].Service, top[0].Occurrences, top[0].TrendScore)
	}

	recs := []string{}
	for _, s := range top {
		if s.Severity.Rank() < models.SeverityWarn.Rank() {
			continue
		}
		recs = append(recs, fmt.Sprintf("Investigate %s in %s", s.ErrorSignature, s.Service))
	}
	for _, m := range signals.Metrics {
		if m.Direction == TrendUp {
			recs = append(recs, fmt.Sprintf("Check %s, up %.0f%% over the metric window", m.Series, m.Change*100))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No action needed")
	}
	return summary, recs
}
