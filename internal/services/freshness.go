package services

import (
	"time"
)

type FreshnessState string

const (
	// Fresh: cached summaries are served as is.
	Fresh FreshnessState = "FRESH"
	// StaleRecent: only the gap since the watermark is fetched and merged.
	StaleRecent FreshnessState = "STALE_RECENT"
	// Cold: the default window is fetched and grouped from scratch.
	Cold FreshnessState = "COLD"
)

// DecideFreshness classifies the age of the watermark against the threshold.
// A zero watermark means the project was never processed.
func DecideFreshness(watermark, now time.Time, threshold time.Duration) FreshnessState {
	if watermark.IsZero() {
		return Cold
	}
	age := now.Sub(watermark)
	switch {
	case age <= threshold:
		return Fresh
	case age <= 2*threshold:
		return StaleRecent
	default:
		return Cold
	}
}
