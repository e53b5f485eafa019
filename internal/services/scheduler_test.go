package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/models"
)

// gatedProcessor blocks every run until release is closed.
type gatedProcessor struct {
	mu      sync.Mutex
	runs    map[string]int
	started chan string
	release chan struct{}
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{
		runs:    map[string]int{},
		started: make(chan string, 10),
		release: make(chan struct{}),
	}
}

func (g *gatedProcessor) ProcessLogs(ctx context.Context, projectID string) (*ProcessingStats, error) {
	g.mu.Lock()
	g.runs[projectID]++
	g.mu.Unlock()
	select {
	case g.started <- projectID:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ProcessingStats{ProjectID: projectID, State: Fresh}, nil
}

func (g *gatedProcessor) count(projectID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs[projectID]
}

func TestSchedulerDeduplicatesPendingRuns(t *testing.T) {
	st := newBadger(t)
	proc := newGatedProcessor()
	s := NewScheduler(proc, st, 0, 1)
	s.Start()
	defer s.Stop()

	require.True(t, s.Trigger("p1"))
	assert.Equal(t, "p1", <-proc.started)
	assert.False(t, s.Trigger("p1"), "a running project must not be queued again")

	close(proc.release)
	assert.Eventually(t, func() bool { return s.Trigger("p1") }, time.Second, 10*time.Millisecond)
	<-proc.started
	assert.Equal(t, 2, proc.count("p1"))
}

func TestSchedulerEnqueueAllSkipsDisabled(t *testing.T) {
	st := newBadger(t)
	saveProject(t, st, models.ProjectState{ProjectID: "on", Enabled: true})
	saveProject(t, st, models.ProjectState{ProjectID: "off", Enabled: false})

	proc := newGatedProcessor()
	close(proc.release)
	s := NewScheduler(proc, st, 0, 2)

	n, err := s.EnqueueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s.Start()
	defer s.Stop()
	assert.Equal(t, "on", <-proc.started)
	assert.Zero(t, proc.count("off"))
}

func TestSchedulerTicks(t *testing.T) {
	st := newBadger(t)
	saveProject(t, st, models.ProjectState{ProjectID: "p1", Enabled: true})

	proc := newGatedProcessor()
	close(proc.release)
	s := NewScheduler(proc, st, 20*time.Millisecond, 1)
	s.Start()

	select {
	case id := <-proc.started:
		assert.Equal(t, "p1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run never started")
	}
	s.Stop()
}

func TestSchedulerStopCancelsRunningPass(t *testing.T) {
	proc := newGatedProcessor()
	s := NewScheduler(proc, newBadger(t), 0, 1)
	s.Start()

	require.True(t, s.Trigger("p1"))
	<-proc.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a pass was running")
	}
}
