package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/models"
)

func TestDatapointQuery(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q, err := DatapointQuery("service-metrics", "p1", models.MetricTarget{ServiceName: "orders", MetricName: "cpu_usage"}, start, start.Add(time.Hour))
	require.NoError(t, err)

	assert.Contains(t, q, `from(bucket: "service-metrics")`)
	assert.Contains(t, q, "range(start: 2024-05-01T10:00:00Z, stop: 2024-05-01T11:00:00Z)")
	assert.Contains(t, q, `r._measurement == "cpu_usage"`)
	assert.Contains(t, q, `r.service == "orders"`)
}

func TestQueriesRejectInjection(t *testing.T) {
	_, err := DatapointQuery("b", "p1", models.MetricTarget{ServiceName: `orders") or (r.x == "`, MetricName: "cpu"}, time.Now(), time.Now())
	assert.Error(t, err)

	_, err = SeriesQuery("b", "p 1")
	assert.Error(t, err)

	q, err := SeriesQuery("b", "p1")
	require.NoError(t, err)
	assert.Contains(t, q, "last()")
}

func TestToFloat(t *testing.T) {
	v, ok := toFloat(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = toFloat("3")
	assert.False(t, ok)
}
