package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

const (
	defaultMetricTimeout = 60 * time.Second
	defaultMetricWorkers = 4
)

// CollectionReport is sent once when a background collection finishes.
type CollectionReport struct {
	ProjectID string            `json:"projectId"`
	Targets   int               `json:"targets"`
	Collected int               `json:"collected"`
	Failed    int               `json:"failed"`
	Snapshots int               `json:"snapshots"`
	Skipped   bool              `json:"skipped,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// MetricCollector pulls recent datapoints for a project's metric targets and
// appends them as snapshots. It runs detached from the request that started it.
type MetricCollector struct {
	source  MetricSource
	store   store.Store
	window  time.Duration
	timeout time.Duration
	workers int
	now     func() time.Time
}

func NewMetricCollector(source MetricSource, st store.Store, window, timeout time.Duration, workers int) *MetricCollector {
	if window <= 0 {
		window = defaultMetricWindow
	}
	if timeout <= 0 {
		timeout = defaultMetricTimeout
	}
	if workers <= 0 {
		workers = defaultMetricWorkers
	}
	return &MetricCollector{
		source:  source,
		store:   st,
		window:  window,
		timeout: timeout,
		workers: workers,
		now:     time.Now,
	}
}

// Collect starts a collection and returns immediately. The channel receives
// exactly one report and is then closed; callers may ignore it. Cancelling
// ctx does not stop the collection, only its own timeout does.
func (c *MetricCollector) Collect(ctx context.Context, project models.ProjectState) <-chan CollectionReport {
	out := make(chan CollectionReport, 1)
	if c == nil || c.source == nil {
		out <- CollectionReport{ProjectID: project.ProjectID, Skipped: true}
		close(out)
		return out
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	go func() {
		defer cancel()
		defer close(out)
		out <- c.CollectNow(bg, project)
	}()
	return out
}

// CollectNow runs a collection synchronously.
func (c *MetricCollector) CollectNow(ctx context.Context, project models.ProjectState) CollectionReport {
	ctx, span := tracer.Start(ctx, "CollectMetrics")
	defer span.End()

	start := time.Now()
	log := logger.WithProject(project.ProjectID, "metric_collector")
	report := CollectionReport{ProjectID: project.ProjectID, Errors: map[string]string{}}

	targets := project.Targets()
	if len(targets) == 0 {
		discovered, err := c.source.ListSeries(ctx, project.ProjectID)
		if err != nil {
			log.WithError(err).Warn("Metric series discovery failed")
			report.Errors["discovery"] = err.Error()
			report.Duration = time.Since(start)
			return report
		}
		targets = discovered
	}
	report.Targets = len(targets)

	end := c.now()
	begin := end.Add(-c.window)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			n, err := c.collectTarget(gctx, project.ProjectID, target, begin, end)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors[target.String()] = err.Error()
				metricTargetsTotal.WithLabelValues("failed").Inc()
				log.WithError(err).WithField("target", target.String()).Warn("Metric target skipped")
				return nil
			}
			report.Collected++
			report.Snapshots += n
			metricTargetsTotal.WithLabelValues("collected").Inc()
			metricSnapshotsTotal.Add(float64(n))
			return nil // one failing target never cancels the others
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	log.WithFields(map[string]interface{}{
		"targets":   report.Targets,
		"collected": report.Collected,
		"failed":    report.Failed,
		"snapshots": report.Snapshots,
	}).Info("Metric collection finished")
	return report
}

func (c *MetricCollector) collectTarget(ctx context.Context, projectID string, target models.MetricTarget, begin, end time.Time) (int, error) {
	points, err := c.source.FetchDatapoints(ctx, projectID, target, begin, end)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}
	snapshots := make([]models.MetricSnapshot, 0, len(points))
	for _, p := range points {
		snapshots = append(snapshots, models.MetricSnapshot{
			ProjectID:   projectID,
			Timestamp:   p.Timestamp.UnixMilli(),
			ServiceName: target.ServiceName,
			MetricName:  target.MetricName,
			Value:       p.Value,
			Unit:        target.Unit,
		})
	}
	if err := c.store.PutMetricSnapshots(ctx, snapshots); err != nil {
		return 0, err
	}
	return len(snapshots), nil
}
