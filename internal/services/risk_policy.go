package services

import (
	"math"
	"sort"
	"strings"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
)

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// MetricTrend compares the later half of a series window with the earlier half.
type MetricTrend struct {
	Series    string         `json:"series"`
	Change    float64        `json:"change"` // relative, 0.25 = +25%
	Direction TrendDirection `json:"direction"`
	Latest    float64        `json:"latest"`
	Unit      string         `json:"unit,omitempty"`
}

// RiskSignals are the inputs of the risk rules.
// Elevation is judged per summary through the Max fields; the sums only feed
// the failure likelihood and the prompt.
type RiskSignals struct {
	ErrorCount    int64
	WarnCount     int64
	ErrorTrend    float64 // sum of the trend scores of ERROR summaries
	WarnTrend     float64
	MaxErrorTrend float64 // highest trend score of a single ERROR summary
	MaxWarnTrend  float64
	Metrics       []MetricTrend
}

type Thresholds struct {
	ErrorTrend  float64
	WarnTrend   float64
	MetricTrend float64
}

// ThresholdPolicy decides what counts as elevated for one project.
type ThresholdPolicy interface {
	Thresholds(summaries []models.LogSummary) Thresholds
}

// AbsolutePolicy uses the same fixed thresholds for every project.
type AbsolutePolicy struct {
	Base Thresholds
}

func (p AbsolutePolicy) Thresholds([]models.LogSummary) Thresholds {
	return p.Base
}

// AdaptivePolicy scales the thresholds with the project's own baseline: a
// trend is elevated when it exceeds Factor times the median trend of the
// project's summaries of that severity, never below Floor.
type AdaptivePolicy struct {
	Floor  Thresholds
	Factor float64
}

func (p AdaptivePolicy) Thresholds(summaries []models.LogSummary) Thresholds {
	var errTrends, warnTrends []float64
	for _, s := range summaries {
		switch s.Severity {
		case models.SeverityError:
			errTrends = append(errTrends, s.TrendScore)
		case models.SeverityWarn:
			warnTrends = append(warnTrends, s.TrendScore)
		}
	}
	return Thresholds{
		ErrorTrend:  math.Max(p.Floor.ErrorTrend, p.Factor*median(errTrends)),
		WarnTrend:   math.Max(p.Floor.WarnTrend, p.Factor*median(warnTrends)),
		MetricTrend: p.Floor.MetricTrend,
	}
}

// NewThresholdPolicy maps the configured mode onto a policy. Unknown modes
// fall back to absolute thresholds.
func NewThresholdPolicy(mode string, base Thresholds, factor float64) ThresholdPolicy {
	if strings.EqualFold(mode, "adaptive") {
		if factor <= 0 {
			factor = 3
		}
		return AdaptivePolicy{Floor: base, Factor: factor}
	}
	return AbsolutePolicy{Base: base}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

type riskRule struct {
	name    string
	level   models.RiskLevel
	applies func(s RiskSignals, t Thresholds) bool
}

func errorsElevated(s RiskSignals, t Thresholds) bool {
	return s.MaxErrorTrend > t.ErrorTrend
}

func warningsElevated(s RiskSignals, t Thresholds) bool {
	return s.MaxWarnTrend > t.WarnTrend
}

func metricsTrendingUp(s RiskSignals, t Thresholds) bool {
	for _, m := range s.Metrics {
		if m.Change > t.MetricTrend {
			return true
		}
	}
	return false
}

func signalsValid(s RiskSignals) bool {
	for _, f := range []float64{s.ErrorTrend, s.WarnTrend, s.MaxErrorTrend, s.MaxWarnTrend} {
		if !isFinite(f) {
			return false
		}
	}
	if s.ErrorCount < 0 || s.WarnCount < 0 {
		return false
	}
	for _, m := range s.Metrics {
		if !isFinite(m.Change) {
			return false
		}
	}
	return true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// riskRules are evaluated in order; the first rule that applies wins.
var riskRules = []riskRule{
	{
		name:  "errors_with_metric_degradation",
		level: models.RiskCritical,
		applies: func(s RiskSignals, t Thresholds) bool {
			return errorsElevated(s, t) && metricsTrendingUp(s, t)
		},
	},
	{
		name:    "errors_elevated",
		level:   models.RiskHigh,
		applies: errorsElevated,
	},
	{
		name:  "warnings_or_metrics_elevated",
		level: models.RiskMedium,
		applies: func(s RiskSignals, t Thresholds) bool {
			return warningsElevated(s, t) || metricsTrendingUp(s, t)
		},
	},
	{
		name:  "quiet",
		level: models.RiskLow,
		applies: func(s RiskSignals, t Thresholds) bool {
			return signalsValid(s) && !errorsElevated(s, t) && !warningsElevated(s, t) && !metricsTrendingUp(s, t)
		},
	},
}

// DeriveRisk returns the level of the first matching rule and the rule name.
// When nothing matches, which only happens with invalid signals, it logs a
// warning and returns LOW.
func DeriveRisk(signals RiskSignals, thresholds Thresholds) (models.RiskLevel, string) {
	for _, rule := range riskRules {
		if rule.applies(signals, thresholds) {
			return rule.level, rule.name
		}
	}
	logger.Warn("No risk rule matched, defaulting to LOW", map[string]interface{}{
		"error_trend":     signals.ErrorTrend,
		"max_error_trend": signals.MaxErrorTrend,
		"warn_trend":      signals.WarnTrend,
		"error_count":     signals.ErrorCount,
		"metric_count":    len(signals.Metrics),
	})
	return models.RiskLow, "fallback"
}

// ParseRiskLevel maps a free-form level onto the enum. Unknown values become
// LOW with a warning.
func ParseRiskLevel(value string) models.RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(models.RiskLow):
		return models.RiskLow
	case string(models.RiskMedium):
		return models.RiskMedium
	case string(models.RiskHigh):
		return models.RiskHigh
	case string(models.RiskCritical):
		return models.RiskCritical
	default:
		logger.Warn("Unknown risk level, defaulting to LOW", map[string]interface{}{"value": value})
		return models.RiskLow
	}
}

// ComputeSignals folds the cached summaries and metric trends into rule inputs.
func ComputeSignals(summaries []models.LogSummary, metrics []MetricTrend) RiskSignals {
	s := RiskSignals{Metrics: metrics}
	for _, sum := range summaries {
		switch sum.Severity {
		case models.SeverityError:
			s.ErrorCount += sum.Occurrences
			s.ErrorTrend += sum.TrendScore
			s.MaxErrorTrend = math.Max(s.MaxErrorTrend, sum.TrendScore)
		case models.SeverityWarn:
			s.WarnCount += sum.Occurrences
			s.WarnTrend += sum.TrendScore
			s.MaxWarnTrend = math.Max(s.MaxWarnTrend, sum.TrendScore)
		}
	}
	return s
}

// ComputeMetricTrends groups snapshots by series and compares the mean of the
// later half of each series with the mean of the earlier half. Series with
// fewer than two points are reported flat.
func ComputeMetricTrends(snapshots []models.MetricSnapshot, threshold float64) []MetricTrend {
	series := make(map[string][]models.MetricSnapshot)
	var keys []string
	for _, snap := range snapshots {
		k := snap.SeriesKey()
		if _, ok := series[k]; !ok {
			keys = append(keys, k)
		}
		series[k] = append(series[k], snap)
	}
	sort.Strings(keys)

	trends := make([]MetricTrend, 0, len(keys))
	for _, k := range keys {
		points := series[k]
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })

		trend := MetricTrend{Series: k, Direction: TrendFlat, Latest: points[len(points)-1].Value, Unit: points[0].Unit}
		if len(points) >= 2 {
			half := len(points) / 2
			earlier, later := meanValue(points[:half]), meanValue(points[half:])
			trend.Change = relativeChange(earlier, later)
			switch {
			case trend.Change > threshold:
				trend.Direction = TrendUp
			case trend.Change < -threshold:
				trend.Direction = TrendDown
			}
		}
		trends = append(trends, trend)
	}
	return trends
}

func meanValue(points []models.MetricSnapshot) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

func relativeChange(from, to float64) float64 {
	if from == 0 {
		switch {
		case to > 0:
			return 1
		case to < 0:
			return -1
		default:
			return 0
		}
	}
	return (to - from) / math.Abs(from)
}

// OverallDirection is up if any series is up, else down if any is down.
func OverallDirection(trends []MetricTrend) TrendDirection {
	dir := TrendFlat
	for _, t := range trends {
		switch t.Direction {
		case TrendUp:
			return TrendUp
		case TrendDown:
			dir = TrendDown
		}
	}
	return dir
}

// FailureLikelihood is 1 - exp(-(0.15*errors + 0.6*errorTrend)), nudged by the
// metric direction and clamped to [0, 1].
func FailureLikelihood(errorCount int64, errorTrend float64, direction TrendDirection) float64 {
	if !isFinite(errorTrend) {
		errorTrend = 0
	}
	p := 1 - math.Exp(-(0.15*float64(errorCount) + 0.6*errorTrend))
	switch direction {
	case TrendUp:
		p += 0.15
	case TrendDown:
		p -= 0.05
	}
	return math.Min(1, math.Max(0, p))
}

// RiskTimeframe is the default horizon attached to each level.
func RiskTimeframe(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "next 1 hour"
	case models.RiskHigh:
		return "next 6 hours"
	case models.RiskMedium:
		return "next 24 hours"
	default:
		return "no imminent failure expected"
	}
}

// topSummaries returns up to n summaries, errors first, then by trend.
func topSummaries(summaries []models.LogSummary, n int) []models.LogSummary {
	sorted := append([]models.LogSummary(nil), summaries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Severity.Rank(), sorted[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if sorted[i].TrendScore != sorted[j].TrendScore {
			return sorted[i].TrendScore > sorted[j].TrendScore
		}
		return sorted[i].Occurrences > sorted[j].Occurrences
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
