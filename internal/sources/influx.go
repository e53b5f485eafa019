package sources

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/services"
)

// Series are stored with the metric name as measurement, the tags "project"
// and "service", an optional "unit" tag and a single "value" field.
const (
	influxValueField   = "value"
	influxDiscoveryAge = "-24h"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSource serves metric datapoints from InfluxDB 2.x.
type InfluxSource struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	bucket   string
}

func NewInfluxSource(cfg InfluxConfig) *InfluxSource {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
}

func (s *InfluxSource) Close() {
	s.client.Close()
}

// Ping reports whether the server is up.
func (s *InfluxSource) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb not reachable: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb health status %q", health.Status)
	}
	return nil
}

var fluxIdent = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+$`)

func validateFluxIdent(kind, v string) error {
	if !fluxIdent.MatchString(v) {
		return fmt.Errorf("invalid %s %q", kind, v)
	}
	return nil
}

// SeriesQuery lists the last point of every series of a project.
func SeriesQuery(bucket, projectID string) (string, error) {
	if err := validateFluxIdent("project id", projectID); err != nil {
		return "", err
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s)
		  |> filter(fn: (r) => r.project == "%s" and r._field == "%s")
		  |> last()
	`, bucket, influxDiscoveryAge, projectID, influxValueField), nil
}

// DatapointQuery selects one series in an absolute time range.
func DatapointQuery(bucket, projectID string, target models.MetricTarget, start, end time.Time) (string, error) {
	for kind, v := range map[string]string{"project id": projectID, "service": target.ServiceName, "metric": target.MetricName} {
		if err := validateFluxIdent(kind, v); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.project == "%s" and r.service == "%s" and r._field == "%s")
		  |> sort(columns: ["_time"], desc: false)
	`, bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
		target.MetricName, projectID, target.ServiceName, influxValueField), nil
}

func (s *InfluxSource) ListSeries(ctx context.Context, projectID string) ([]models.MetricTarget, error) {
	query, err := SeriesQuery(s.bucket, projectID)
	if err != nil {
		return nil, err
	}
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	seen := map[string]bool{}
	var targets []models.MetricTarget
	for result.Next() {
		record := result.Record()
		service, _ := record.ValueByKey("service").(string)
		unit, _ := record.ValueByKey("unit").(string)
		t := models.MetricTarget{ServiceName: service, MetricName: record.Measurement(), Unit: unit}
		if t.ServiceName == "" || seen[t.String()] {
			continue
		}
		seen[t.String()] = true
		targets = append(targets, t)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })
	logger.WithProject(projectID, "influx_source").WithField("series", len(targets)).Debug("Discovered metric series")
	return targets, nil
}

func (s *InfluxSource) FetchDatapoints(ctx context.Context, projectID string, target models.MetricTarget, start, end time.Time) ([]services.Datapoint, error) {
	query, err := DatapointQuery(s.bucket, projectID, target, start, end)
	if err != nil {
		return nil, err
	}
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	var points []services.Datapoint
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		points = append(points, services.Datapoint{Timestamp: record.Time(), Value: value})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return points, nil
}

// WriteDatapoints records points for one series. It backs the seed tool.
func (s *InfluxSource) WriteDatapoints(ctx context.Context, projectID string, target models.MetricTarget, points []services.Datapoint) error {
	tags := map[string]string{"project": projectID, "service": target.ServiceName}
	if target.Unit != "" {
		tags["unit"] = target.Unit
	}
	for _, p := range points {
		pt := influxdb2.NewPoint(target.MetricName, tags, map[string]interface{}{influxValueField: p.Value}, p.Timestamp)
		if err := s.writeAPI.WritePoint(ctx, pt); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
