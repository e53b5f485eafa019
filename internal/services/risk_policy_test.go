package services

import (
	"fmt"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
)

var defaultThresholds = Thresholds{ErrorTrend: 0.5, WarnTrend: 1.0, MetricTrend: 0.2}

func TestDeriveRisk(t *testing.T) {
	cpuUp := []MetricTrend{{Series: "orders/cpu", Change: 0.5, Direction: TrendUp}}
	cpuFlat := []MetricTrend{{Series: "orders/cpu", Change: 0.05, Direction: TrendFlat}}

	tests := []struct {
		name    string
		signals RiskSignals
		want    models.RiskLevel
	}{
		{"errors and metric up", RiskSignals{ErrorTrend: 0.6, MaxErrorTrend: 0.6, Metrics: cpuUp}, models.RiskCritical},
		{"errors only", RiskSignals{ErrorTrend: 0.6, MaxErrorTrend: 0.6, Metrics: cpuFlat}, models.RiskHigh},
		{"warnings only", RiskSignals{WarnTrend: 2, MaxWarnTrend: 2}, models.RiskMedium},
		{"metrics alone", RiskSignals{Metrics: cpuUp}, models.RiskMedium},
		{"quiet", RiskSignals{ErrorTrend: 0.1, MaxErrorTrend: 0.1, WarnTrend: 0.5, MaxWarnTrend: 0.5, Metrics: cpuFlat}, models.RiskLow},
		{"nothing at all", RiskSignals{}, models.RiskLow},
		{"threshold is exclusive", RiskSignals{ErrorTrend: 0.5, MaxErrorTrend: 0.5}, models.RiskLow},
		{"many quiet errors with metric up", ComputeSignals(lowTrendErrors(10), cpuUp), models.RiskMedium},
		{"many quiet errors", ComputeSignals(lowTrendErrors(10), cpuFlat), models.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := DeriveRisk(tt.signals, defaultThresholds)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "fallback", rule)
		})
	}
}

// lowTrendErrors returns n distinct ERROR summaries at 0.1/min each.
func lowTrendErrors(n int) []models.LogSummary {
	summaries := make([]models.LogSummary, n)
	for i := range summaries {
		summaries[i] = models.LogSummary{
			SummaryID:   fmt.Sprintf("api#sig-%d#ERROR", i),
			Severity:    models.SeverityError,
			Occurrences: 1,
			TrendScore:  0.1,
		}
	}
	return summaries
}

func TestComputeSignals(t *testing.T) {
	summaries := append(lowTrendErrors(10),
		models.LogSummary{Severity: models.SeverityError, Occurrences: 4, TrendScore: 0.3},
		models.LogSummary{Severity: models.SeverityWarn, Occurrences: 2, TrendScore: 0.7},
		models.LogSummary{Severity: models.SeverityInfo, Occurrences: 50, TrendScore: 9},
	)
	s := ComputeSignals(summaries, nil)

	assert.Equal(t, int64(14), s.ErrorCount)
	assert.InDelta(t, 1.3, s.ErrorTrend, 1e-9)
	assert.InDelta(t, 0.3, s.MaxErrorTrend, 1e-9)
	assert.Equal(t, int64(2), s.WarnCount)
	assert.InDelta(t, 0.7, s.MaxWarnTrend, 1e-9)
}

func TestDeriveRiskFallsBackToLowWithWarning(t *testing.T) {
	hook := test.NewLocal(logger.GetLogger())
	defer hook.Reset()

	got, rule := DeriveRisk(RiskSignals{ErrorTrend: math.NaN()}, defaultThresholds)
	assert.Equal(t, models.RiskLow, got)
	assert.Equal(t, "fallback", rule)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestParseRiskLevel(t *testing.T) {
	hook := test.NewLocal(logger.GetLogger())
	defer hook.Reset()

	assert.Equal(t, models.RiskHigh, ParseRiskLevel(" high "))
	assert.Equal(t, models.RiskCritical, ParseRiskLevel("CRITICAL"))
	assert.Empty(t, hook.AllEntries())

	assert.Equal(t, models.RiskLow, ParseRiskLevel("apocalyptic"))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestAdaptivePolicy(t *testing.T) {
	policy := NewThresholdPolicy("adaptive", defaultThresholds, 3)
	summaries := []models.LogSummary{
		{Severity: models.SeverityError, TrendScore: 0.2},
		{Severity: models.SeverityError, TrendScore: 0.4},
		{Severity: models.SeverityError, TrendScore: 1.0},
		{Severity: models.SeverityWarn, TrendScore: 0.1},
	}

	th := policy.Thresholds(summaries)
	assert.InDelta(t, 1.2, th.ErrorTrend, 1e-9) // 3 x median 0.4
	assert.InDelta(t, 1.0, th.WarnTrend, 1e-9)  // floor wins over 3 x 0.1
	assert.Equal(t, 0.2, th.MetricTrend)

	assert.Equal(t, defaultThresholds, NewThresholdPolicy("absolute", defaultThresholds, 3).Thresholds(summaries))
}

func TestComputeMetricTrends(t *testing.T) {
	snaps := []models.MetricSnapshot{
		{ServiceName: "orders", MetricName: "cpu", Timestamp: 1, Value: 40},
		{ServiceName: "orders", MetricName: "cpu", Timestamp: 2, Value: 40},
		{ServiceName: "orders", MetricName: "cpu", Timestamp: 3, Value: 60},
		{ServiceName: "orders", MetricName: "cpu", Timestamp: 4, Value: 60},
		{ServiceName: "orders", MetricName: "latency", Timestamp: 1, Value: 100},
		{ServiceName: "orders", MetricName: "latency", Timestamp: 2, Value: 50},
		{ServiceName: "orders", MetricName: "mem", Timestamp: 1, Value: 10},
	}

	trends := ComputeMetricTrends(snaps, 0.2)
	require.Len(t, trends, 3)

	assert.Equal(t, "orders/cpu", trends[0].Series)
	assert.InDelta(t, 0.5, trends[0].Change, 1e-9)
	assert.Equal(t, TrendUp, trends[0].Direction)

	assert.Equal(t, "orders/latency", trends[1].Series)
	assert.Equal(t, TrendDown, trends[1].Direction)

	assert.Equal(t, "orders/mem", trends[2].Series)
	assert.Equal(t, TrendFlat, trends[2].Direction)

	assert.Equal(t, TrendUp, OverallDirection(trends))
	assert.Equal(t, TrendDown, OverallDirection(trends[1:]))
	assert.Equal(t, TrendFlat, OverallDirection(nil))
}

func TestFailureLikelihood(t *testing.T) {
	base := 1 - math.Exp(-(0.15*3 + 0.6*0.6))
	assert.InDelta(t, base, FailureLikelihood(3, 0.6, TrendFlat), 1e-9)
	assert.InDelta(t, base+0.15, FailureLikelihood(3, 0.6, TrendUp), 1e-9)
	assert.InDelta(t, base-0.05, FailureLikelihood(3, 0.6, TrendDown), 1e-9)

	assert.Equal(t, 0.0, FailureLikelihood(0, 0, TrendDown))
	assert.Equal(t, 1.0, FailureLikelihood(1000, 50, TrendUp))
	assert.Equal(t, 0.0, FailureLikelihood(0, math.NaN(), TrendFlat))
}
