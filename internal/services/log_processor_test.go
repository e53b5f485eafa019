package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/models"
)

func checkoutEvents(start time.Time) []RawEvent {
	npe := "ERROR java.lang.NullPointerException at OrderProcessor.java:87"
	return []RawEvent{
		{Timestamp: start, Message: npe, LogGroup: "/ecs/orders"},
		{Timestamp: start.Add(2 * time.Minute), Message: npe, LogGroup: "/ecs/orders"},
		{Timestamp: start.Add(5 * time.Minute), Message: npe, LogGroup: "/ecs/orders"},
		{Timestamp: start.Add(3 * time.Minute), Message: "WARN connection pool usage at 85%", LogGroup: "/ecs/orders"},
	}
}

type processorFixture struct {
	store     *failingStore
	source    *fakeLogSource
	embedder  *fakeEmbedder
	processor *LogProcessor
}

func newProcessorFixture(t *testing.T, project models.ProjectState) *processorFixture {
	t.Helper()
	st := &failingStore{BadgerStore: newBadger(t)}
	saveProject(t, st, project)

	f := &processorFixture{
		store:    st,
		source:   &fakeLogSource{},
		embedder: &fakeEmbedder{},
	}
	pipeline := NewEmbeddingPipeline(st, f.embedder, 5, time.Second, 0)
	f.processor = NewLogProcessor(st, st, f.source, pipeline, nil, LogProcessorConfig{
		FreshnessThreshold: 2 * time.Hour,
		DefaultWindow:      24 * time.Hour,
	})
	return f
}

func TestProcessLogsColdStartScenario(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, models.ProjectState{ProjectID: "checkout", Enabled: true})
	f.source.events = checkoutEvents(baseTime)
	now := baseTime.Add(10 * time.Minute)
	f.processor.now = fixedClock(now)

	stats, err := f.processor.ProcessLogs(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, Cold, stats.State)
	assert.Equal(t, 4, stats.EventsFetched)
	require.Len(t, stats.Summaries, 2)

	npe, err := f.store.GetSummary(ctx, "checkout", "orders#NullPointerException@OrderProcessor:87#ERROR")
	require.NoError(t, err)
	assert.Equal(t, int64(3), npe.Occurrences)
	assert.InDelta(t, 0.6, npe.TrendScore, 1e-9)

	var warn models.LogSummary
	for _, s := range stats.Summaries {
		if s.Severity == models.SeverityWarn {
			warn = s
		}
	}
	assert.Equal(t, int64(1), warn.Occurrences)

	embeddings, err := f.store.ListEmbeddings(ctx, "checkout")
	require.NoError(t, err)
	assert.Len(t, embeddings, 2)
	assert.Equal(t, 2, stats.Embeddings.Succeeded)

	project, err := f.store.GetProject(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), project.LastProcessedTimestamp)

	predictor := NewHealthPredictor(f.store, f.store, nil, HealthPredictorConfig{})
	predictor.now = fixedClock(now.Add(time.Second))
	health, err := predictor.GetHealth(ctx, "checkout")
	require.NoError(t, err)
	assert.Contains(t, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, health.RiskLevel)
	assert.False(t, health.NoData)
}

func TestProcessLogsFreshServesCache(t *testing.T) {
	ctx := context.Background()
	now := baseTime.Add(time.Hour)
	f := newProcessorFixture(t, models.ProjectState{
		ProjectID:              "p1",
		Enabled:                true,
		LastProcessedTimestamp: now.Add(-30 * time.Minute).UnixMilli(),
	})
	require.NoError(t, f.store.PutSummaries(ctx, []models.LogSummary{{ProjectID: "p1", SummaryID: "cached", Occurrences: 4}}))
	f.processor.now = fixedClock(now)

	stats, err := f.processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, stats.State)
	assert.Equal(t, 0, f.source.calls())
	require.Len(t, stats.Summaries, 1)
	assert.Equal(t, int64(4), stats.Summaries[0].Occurrences)
	assert.Zero(t, f.embedder.callCount())
}

func TestProcessLogsStaleMergesGap(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, models.ProjectState{ProjectID: "checkout", Enabled: true})
	f.source.events = checkoutEvents(baseTime)
	first := baseTime.Add(10 * time.Minute)
	f.processor.now = fixedClock(first)
	_, err := f.processor.ProcessLogs(ctx, "checkout")
	require.NoError(t, err)
	embedCalls := f.embedder.callCount()

	// Two more NPEs arrive after the watermark.
	later := first.Add(3 * time.Hour)
	f.source.events = append(f.source.events,
		RawEvent{Timestamp: first.Add(time.Hour), Message: "ERROR java.lang.NullPointerException at OrderProcessor.java:87", LogGroup: "/ecs/orders"},
		RawEvent{Timestamp: first.Add(2 * time.Hour), Message: "ERROR java.lang.NullPointerException at OrderProcessor.java:87", LogGroup: "/ecs/orders"},
	)
	f.processor.now = fixedClock(later)

	stats, err := f.processor.ProcessLogs(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, StaleRecent, stats.State)
	assert.Equal(t, 2, stats.EventsFetched)
	require.NotNil(t, stats.WindowStart)
	assert.Equal(t, first.UnixMilli(), stats.WindowStart.UnixMilli())

	npe, err := f.store.GetSummary(ctx, "checkout", "orders#NullPointerException@OrderProcessor:87#ERROR")
	require.NoError(t, err)
	assert.Equal(t, int64(5), npe.Occurrences)
	assert.Equal(t, baseTime.UnixMilli(), npe.FirstSeenTimestamp)
	assert.Equal(t, first.Add(2*time.Hour).UnixMilli(), npe.LastSeenTimestamp)

	// Same text, so no re-embedding for a summary that only grew.
	assert.Equal(t, embedCalls, f.embedder.callCount())
}

func TestProcessLogsColdKeepsKeysOutsideWindow(t *testing.T) {
	ctx := context.Background()
	now := baseTime.Add(48 * time.Hour)
	f := newProcessorFixture(t, models.ProjectState{
		ProjectID:              "p1",
		Enabled:                true,
		LastProcessedTimestamp: now.Add(-5 * time.Hour).UnixMilli(),
	})
	require.NoError(t, f.store.PutSummaries(ctx, []models.LogSummary{{ProjectID: "p1", SummaryID: "old#sig#ERROR", Occurrences: 9}}))
	f.source.events = []RawEvent{{Timestamp: now.Add(-time.Hour), Message: "ERROR boom", LogGroup: "/svc/api"}}
	f.processor.now = fixedClock(now)

	stats, err := f.processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Cold, stats.State)
	assert.Len(t, stats.Summaries, 2)

	old, err := f.store.GetSummary(ctx, "p1", "old#sig#ERROR")
	require.NoError(t, err)
	assert.Equal(t, int64(9), old.Occurrences)
}

func TestProcessLogsSourceFailureDegrades(t *testing.T) {
	ctx := context.Background()
	now := baseTime.Add(10 * time.Hour)
	watermark := now.Add(-3 * time.Hour).UnixMilli()
	f := newProcessorFixture(t, models.ProjectState{ProjectID: "p1", Enabled: true, LastProcessedTimestamp: watermark})
	require.NoError(t, f.store.PutSummaries(ctx, []models.LogSummary{{ProjectID: "p1", SummaryID: "cached"}}))
	f.source.err = errors.New("connection refused")
	f.processor.now = fixedClock(now)

	stats, err := f.processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Contains(t, stats.DegradedReason, "connection refused")
	assert.Len(t, stats.Summaries, 1)

	project, err := f.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, watermark, project.LastProcessedTimestamp)
}

func TestProcessLogsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, models.ProjectState{ProjectID: "p1", Enabled: true})
	f.source.events = checkoutEvents(baseTime)
	f.store.failPutSummaries = true
	f.processor.now = fixedClock(baseTime.Add(time.Hour))

	_, err := f.processor.ProcessLogs(ctx, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "p1", perr.ProjectID)

	project, err := f.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, project.LastProcessedTimestamp)
}

func TestProcessLogsConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, models.ProjectState{ProjectID: "off", Enabled: false})

	_, err := f.processor.ProcessLogs(ctx, "missing")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, IsRetryable(err))

	_, err = f.processor.ProcessLogs(ctx, "off")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 0, f.source.calls())
}

func TestProcessLogsStartsMetricCollection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := newBadger(t)
	saveProject(t, st, models.ProjectState{ProjectID: "p1", Enabled: true, MetricTargets: []string{"orders/cpu"}})

	source := &fakeLogSource{events: checkoutEvents(baseTime)}
	metrics := &fakeMetricSource{points: map[string][]Datapoint{
		"orders/cpu": {{Timestamp: baseTime, Value: 10}, {Timestamp: baseTime.Add(time.Minute), Value: 20}},
	}}
	collector := NewMetricCollector(metrics, st, time.Hour, 5*time.Second, 2)
	processor := NewLogProcessor(st, st, source, nil, collector, LogProcessorConfig{})
	processor.now = fixedClock(baseTime.Add(10 * time.Minute))

	stats, err := processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stats.MetricCollection)

	// The collection survives the caller going away.
	cancel()
	report := <-stats.MetricCollection
	assert.Equal(t, 1, report.Collected)
	assert.Equal(t, 2, report.Snapshots)
}

func newCollectingProcessor(t *testing.T, project models.ProjectState, source *fakeLogSource) (*LogProcessor, *failingStore) {
	t.Helper()
	st := &failingStore{BadgerStore: newBadger(t)}
	saveProject(t, st, project)
	metrics := &fakeMetricSource{points: map[string][]Datapoint{
		"orders/cpu": {{Timestamp: baseTime, Value: 40}},
	}}
	collector := NewMetricCollector(metrics, st, time.Hour, 5*time.Second, 2)
	processor := NewLogProcessor(st, st, source, nil, collector, LogProcessorConfig{FreshnessThreshold: 2 * time.Hour})
	return processor, st
}

func TestProcessLogsCollectsMetricsWhenFresh(t *testing.T) {
	ctx := context.Background()
	now := baseTime.Add(time.Hour)
	source := &fakeLogSource{events: checkoutEvents(baseTime)}
	processor, st := newCollectingProcessor(t, models.ProjectState{
		ProjectID:              "p1",
		Enabled:                true,
		MetricTargets:          []string{"orders/cpu"},
		LastProcessedTimestamp: now.Add(-30 * time.Minute).UnixMilli(),
	}, source)
	processor.now = fixedClock(now)

	stats, err := processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, stats.State)
	assert.Equal(t, 0, source.calls())
	require.NotNil(t, stats.MetricCollection)

	report := <-stats.MetricCollection
	assert.Equal(t, 1, report.Collected)
	snaps, err := st.ListMetricSnapshots(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestProcessLogsCollectsMetricsWhenSourceFails(t *testing.T) {
	ctx := context.Background()
	now := baseTime.Add(10 * time.Hour)
	source := &fakeLogSource{err: errors.New("loki unreachable")}
	processor, _ := newCollectingProcessor(t, models.ProjectState{
		ProjectID:     "p1",
		Enabled:       true,
		MetricTargets: []string{"orders/cpu"},
	}, source)
	processor.now = fixedClock(now)

	stats, err := processor.ProcessLogs(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	require.NotNil(t, stats.MetricCollection)

	report := <-stats.MetricCollection
	assert.Equal(t, 1, report.Collected)
	assert.Equal(t, 1, report.Snapshots)
}
