package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/autolog/logsentinel/internal/models"
)

// LLM Prompt Constants for consistent and optimized AI interactions

const (
	// HEALTH_PREDICTION_PROMPT asks for a short narrative over already-derived
	// risk signals. The risk level itself is never delegated to the model.
	HEALTH_PREDICTION_PROMPT = `You are an expert Site Reliability Engineer (SRE) reviewing the current health of a project.

CRITICAL INSTRUCTIONS:
- Return ONLY valid JSON matching the schema you were given
- Do not include any explanatory text, introductions, or markdown formatting
- Do not change the risk level, explain it
- Keep the summary to 2-3 sentences

PROJECT: %s
RISK LEVEL: %s
FAILURE LIKELIHOOD: %.2f
ERROR OCCURRENCES: %d (combined trend %.2f/min)
WARNING OCCURRENCES: %d (combined trend %.2f/min)

TOP SIGNATURES:
%s

METRIC TRENDS:
%s

REQUIRED JSON FORMAT:
{
  "summary": "What is going wrong and how likely it is to escalate",
  "recommendations": ["Specific technical action", "Monitoring or alerting improvement"],
  "timeframe": "When a failure is expected, e.g. next 6 hours"
}`

	maxPromptSignatures = 10
)

// PredictionNarrative is the structured answer expected from the summarizer.
type PredictionNarrative struct {
	Summary         string   `json:"summary" jsonschema:"required,description=Short summary of the project health"`
	Recommendations []string `json:"recommendations" jsonschema:"required,description=Concrete next steps"`
	Timeframe       string   `json:"timeframe" jsonschema:"required,description=Expected time until failure"`
}

// GenerateSchema reflects T into a strict JSON schema: no references, no
// additional properties, every property required.
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

var predictionNarrativeSchema = GenerateSchema[PredictionNarrative]()

func buildPredictionPrompt(projectID string, risk models.RiskLevel, likelihood float64, signals RiskSignals, summaries []models.LogSummary) string {
	var sigs strings.Builder
	for i, s := range topSummaries(summaries, maxPromptSignatures) {
		fmt.Fprintf(&sigs, "%d. [%s] %s in %s: %d occurrences, %.2f/min\n",
			i+1, s.Severity, s.ErrorSignature, s.Service, s.Occurrences, s.TrendScore)
	}
	if sigs.Len() == 0 {
		sigs.WriteString("none\n")
	}

	var metrics strings.Builder
	for _, m := range signals.Metrics {
		fmt.Fprintf(&metrics, "- %s: %s (%+.0f%%)\n", m.Series, m.Direction, m.Change*100)
	}
	if metrics.Len() == 0 {
		metrics.WriteString("no metric data\n")
	}

	return fmt.Sprintf(HEALTH_PREDICTION_PROMPT,
		projectID, risk, likelihood,
		signals.ErrorCount, signals.ErrorTrend,
		signals.WarnCount, signals.WarnTrend,
		strings.TrimRight(sigs.String(), "\n"),
		strings.TrimRight(metrics.String(), "\n"),
	)
}

// parseNarrative accepts the raw model output, tolerating code fences and
// surrounding text, and rejects answers without a summary.
func parseNarrative(response string) (*PredictionNarrative, error) {
	raw := extractJSONFromResponse(response)
	var n PredictionNarrative
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return nil, fmt.Errorf("%w: malformed narrative: %v", ErrSummarization, err)
	}
	n.Summary = strings.TrimSpace(n.Summary)
	if n.Summary == "" {
		return nil, fmt.Errorf("%w: narrative without summary", ErrSummarization)
	}
	recs := n.Recommendations[:0]
	for _, r := range n.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}
	n.Recommendations = recs
	n.Timeframe = strings.TrimSpace(n.Timeframe)
	return &n, nil
}

// extractJSONFromResponse attempts to extract JSON from a response that may contain explanatory text
func extractJSONFromResponse(response string) string {
	response = strings.TrimSpace(response)

	// Remove markdown code blocks if present
	if strings.Contains(response, "```json") {
		start := strings.Index(response, "```json")
		end := strings.LastIndex(response, "```")
		if end > start {
			response = response[start+7 : end]
		}
	} else if strings.Contains(response, "```") {
		start := strings.Index(response, "```")
		end := strings.LastIndex(response, "```")
		if end > start {
			response = response[start+3 : end]
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}
