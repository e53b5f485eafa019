package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/models"
)

func TestCollectNowSkipsFailingTargets(t *testing.T) {
	ctx := context.Background()
	st := newBadger(t)
	source := &fakeMetricSource{
		points: map[string][]Datapoint{
			"orders/cpu":     {{Timestamp: baseTime, Value: 10}, {Timestamp: baseTime.Add(time.Minute), Value: 12}},
			"orders/latency": {{Timestamp: baseTime, Value: 120}},
		},
		fail: map[string]bool{"orders/errors": true},
	}
	collector := NewMetricCollector(source, st, time.Hour, time.Second, 2)
	collector.now = fixedClock(baseTime.Add(5 * time.Minute))

	project := models.ProjectState{ProjectID: "p1", MetricTargets: []string{"orders/cpu", "orders/errors", "orders/latency"}}
	snapshotsBefore := testutil.ToFloat64(metricSnapshotsTotal)
	failedBefore := testutil.ToFloat64(metricTargetsTotal.WithLabelValues("failed"))
	report := collector.CollectNow(ctx, project)

	assert.Equal(t, 3, report.Targets)
	assert.Equal(t, 2, report.Collected)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Snapshots)
	assert.Contains(t, report.Errors, "orders/errors")
	assert.Equal(t, 3.0, testutil.ToFloat64(metricSnapshotsTotal)-snapshotsBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(metricTargetsTotal.WithLabelValues("failed"))-failedBefore)

	snaps, err := st.ListMetricSnapshots(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
	assert.Equal(t, baseTime.UnixMilli(), snaps[0].Timestamp)
}

func TestCollectNowDiscoversSeries(t *testing.T) {
	st := newBadger(t)
	source := &fakeMetricSource{
		series: []models.MetricTarget{{ServiceName: "api", MetricName: "memory", Unit: "MB"}},
		points: map[string][]Datapoint{"api/memory": {{Timestamp: baseTime, Value: 512}}},
	}
	collector := NewMetricCollector(source, st, time.Hour, time.Second, 1)

	report := collector.CollectNow(context.Background(), models.ProjectState{ProjectID: "p1"})
	assert.Equal(t, 1, report.Targets)
	assert.Equal(t, 1, report.Collected)

	snaps, err := st.ListMetricSnapshots(context.Background(), "p1", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "MB", snaps[0].Unit)
	assert.Equal(t, "api", snaps[0].ServiceName)
}

func TestCollectWithoutSourceIsSkipped(t *testing.T) {
	collector := NewMetricCollector(nil, newBadger(t), time.Hour, time.Second, 1)
	report, ok := <-collector.Collect(context.Background(), models.ProjectState{ProjectID: "p1"})
	require.True(t, ok)
	assert.True(t, report.Skipped)

	_, ok = <-collector.Collect(context.Background(), models.ProjectState{ProjectID: "p1"})
	assert.True(t, ok)
}

func TestCollectClosesChannelAfterReport(t *testing.T) {
	collector := NewMetricCollector(&fakeMetricSource{}, newBadger(t), time.Hour, time.Second, 1)
	ch := collector.Collect(context.Background(), models.ProjectState{ProjectID: "p1", MetricTargets: []string{"svc/cpu"}})

	report := <-ch
	assert.Equal(t, 1, report.Collected)
	assert.Zero(t, report.Snapshots)

	_, open := <-ch
	assert.False(t, open)
}
