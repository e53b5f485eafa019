package services

import (
	"math"
	"sort"
	"time"

	"github.com/autolog/logsentinel/internal/models"
)

const millisPerMinute = float64(time.Minute / time.Millisecond)

// TrendScore is occurrences per minute over the observed window. Windows
// shorter than a minute count as one minute so bursts do not explode the score.
func TrendScore(occurrences, firstSeen, lastSeen int64) float64 {
	minutes := math.Max(float64(lastSeen-firstSeen)/millisPerMinute, 1)
	return float64(occurrences) / minutes
}

// GroupEvents folds normalized events into one summary per
// (service, signature, severity). The result is sorted by summary id.
func GroupEvents(projectID string, events []NormalizedEvent, now time.Time) []models.LogSummary {
	ordered := make([]NormalizedEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	groups := make(map[string]*models.LogSummary)
	for _, ev := range ordered {
		key := ev.Key()
		ts := ev.Timestamp.UnixMilli()
		s, ok := groups[key]
		if !ok {
			s = &models.LogSummary{
				ProjectID:          projectID,
				SummaryID:          key,
				Service:            ev.Service,
				ErrorSignature:     ev.Signature,
				Severity:           ev.Severity,
				FirstSeenTimestamp: ts,
				LastSeenTimestamp:  ts,
			}
			groups[key] = s
		}
		s.Occurrences++
		if ts < s.FirstSeenTimestamp {
			s.FirstSeenTimestamp = ts
		}
		if ts > s.LastSeenTimestamp {
			s.LastSeenTimestamp = ts
		}
		if s.SampleMessage == "" && ev.Message != "" {
			s.SampleMessage = ev.Message
		}
	}

	summaries := make([]models.LogSummary, 0, len(groups))
	for _, s := range groups {
		s.TrendScore = TrendScore(s.Occurrences, s.FirstSeenTimestamp, s.LastSeenTimestamp)
		s.UpdatedAt = now
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SummaryID < summaries[j].SummaryID
	})
	return summaries
}

// MergeSummary folds a delta for the same key into an existing summary.
// Occurrences add up, the window widens to cover both and the trend is
// recomputed over the combined window. An existing sample is kept.
func MergeSummary(existing, delta models.LogSummary) models.LogSummary {
	merged := existing
	merged.Occurrences = existing.Occurrences + delta.Occurrences
	merged.FirstSeenTimestamp = minInt64(existing.FirstSeenTimestamp, delta.FirstSeenTimestamp)
	merged.LastSeenTimestamp = maxInt64(existing.LastSeenTimestamp, delta.LastSeenTimestamp)
	merged.TrendScore = TrendScore(merged.Occurrences, merged.FirstSeenTimestamp, merged.LastSeenTimestamp)
	if merged.SampleMessage == "" {
		merged.SampleMessage = delta.SampleMessage
	}
	if delta.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = delta.UpdatedAt
	}
	return merged
}

// MergeAll merges deltas into the existing rows by summary id and returns
// only the rows touched by the deltas.
func MergeAll(existing, deltas []models.LogSummary) []models.LogSummary {
	byID := make(map[string]models.LogSummary, len(existing))
	for _, s := range existing {
		byID[s.SummaryID] = s
	}
	out := make([]models.LogSummary, 0, len(deltas))
	for _, d := range deltas {
		if cur, ok := byID[d.SummaryID]; ok {
			out = append(out, MergeSummary(cur, d))
			continue
		}
		out = append(out, d)
	}
	return out
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
