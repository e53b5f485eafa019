package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

type fakeLogSource struct {
	mu      sync.Mutex
	events  []RawEvent
	err     error
	queries []LogQuery
}

func (f *fakeLogSource) FetchEvents(_ context.Context, q LogQuery) ([]RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []RawEvent
	for _, ev := range f.events {
		if !ev.Timestamp.Before(q.Start) && !ev.Timestamp.After(q.End) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeLogSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakeEmbedder fails for any text containing one of failOn.
type fakeEmbedder struct {
	mu     sync.Mutex
	failOn []string
	calls  int
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, s := range f.failOn {
		if strings.Contains(text, s) {
			return nil, errors.New("embedding service rejected input")
		}
	}
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r % 7)
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbeddingModel() string { return "fake-embed" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMetricSource struct {
	series []models.MetricTarget
	points map[string][]Datapoint
	fail   map[string]bool
}

func (f *fakeMetricSource) ListSeries(context.Context, string) ([]models.MetricTarget, error) {
	return f.series, nil
}

func (f *fakeMetricSource) FetchDatapoints(_ context.Context, _ string, target models.MetricTarget, _, _ time.Time) ([]Datapoint, error) {
	if f.fail[target.String()] {
		return nil, errors.New("series unavailable")
	}
	return f.points[target.String()], nil
}

type fakeSummarizer struct {
	response string
	err      error
	delay    time.Duration
}

func (f *fakeSummarizer) Summarize(ctx context.Context, _ string, _ map[string]interface{}) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

// failingStore wraps a real store and fails selected writes.
type failingStore struct {
	*store.BadgerStore
	failPutSummaries bool
	failReads        bool
}

func (s *failingStore) PutSummaries(ctx context.Context, summaries []models.LogSummary) error {
	if s.failPutSummaries {
		return errors.New("disk full")
	}
	return s.BadgerStore.PutSummaries(ctx, summaries)
}

func (s *failingStore) ListSummaries(ctx context.Context, projectID string) ([]models.LogSummary, error) {
	if s.failReads {
		return nil, errors.New("store offline")
	}
	return s.BadgerStore.ListSummaries(ctx, projectID)
}

func newBadger(t *testing.T) *store.BadgerStore {
	t.Helper()
	s, err := store.OpenBadger(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveProject(t *testing.T, repo store.ProjectRepository, p models.ProjectState) {
	t.Helper()
	require.NoError(t, repo.SaveProject(context.Background(), &p))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
