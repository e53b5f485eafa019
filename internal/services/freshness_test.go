package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecideFreshness(t *testing.T) {
	threshold := 2 * time.Hour
	now := baseTime

	tests := []struct {
		name      string
		watermark time.Time
		want      FreshnessState
	}{
		{"never processed", time.Time{}, Cold},
		{"30 minutes old", now.Add(-30 * time.Minute), Fresh},
		{"exactly at threshold", now.Add(-2 * time.Hour), Fresh},
		{"3 hours old", now.Add(-3 * time.Hour), StaleRecent},
		{"exactly twice the threshold", now.Add(-4 * time.Hour), StaleRecent},
		{"5 hours old", now.Add(-5 * time.Hour), Cold},
		{"watermark in the future", now.Add(time.Minute), Fresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideFreshness(tt.watermark, now, threshold))
		})
	}
}
