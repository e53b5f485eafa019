package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionNarrativeSchema(t *testing.T) {
	assert.Equal(t, "object", predictionNarrativeSchema["type"])
	assert.Equal(t, false, predictionNarrativeSchema["additionalProperties"])
	assert.ElementsMatch(t, []interface{}{"summary", "recommendations", "timeframe"}, predictionNarrativeSchema["required"])
	assert.NotContains(t, predictionNarrativeSchema, "$schema")
}

func TestParseNarrative(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     *PredictionNarrative
		wantErr  bool
	}{
		{
			name:     "plain json",
			response: `{"summary":"Errors rising","recommendations":["Roll back"],"timeframe":"next hour"}`,
			want:     &PredictionNarrative{Summary: "Errors rising", Recommendations: []string{"Roll back"}, Timeframe: "next hour"},
		},
		{
			name:     "fenced with chatter",
			response: "Here you go:\n```json\n{\"summary\":\" ok \",\"recommendations\":[\" \",\"Scale out\"],\"timeframe\":\"\"}\n```",
			want:     &PredictionNarrative{Summary: "ok", Recommendations: []string{"Scale out"}, Timeframe: ""},
		},
		{name: "missing summary", response: `{"recommendations":[]}`, wantErr: true},
		{name: "not json", response: "the service looks fine", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNarrative(tt.response)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSummarization)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
