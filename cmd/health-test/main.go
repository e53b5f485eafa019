package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/middleware"
	"github.com/autolog/logsentinel/internal/models"
)

// LivenessResponse is the body of GET /health.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Services  struct {
		Store struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"store"`
	} `json:"services"`
}

type check struct {
	name string
	fn   func() error
}

type smokeClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	baseURL   string
	projectID string
	token     string
	timeout   time.Duration

	rootCmd = &cobra.Command{
		Use:          "health-test",
		Short:        "Smoke-test a running logsentinel server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVar(&projectID, "project", "", "also fetch the health prediction of this project")
	rootCmd.Flags().StringVar(&token, "token", "", "API token; signed from JWT_SECRET when empty")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	p := &smokeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
	if p.token == "" {
		if secret := config.Getenv("JWT_SECRET", ""); secret != "" {
			signed, err := middleware.IssueToken(secret, "health-test", map[string]interface{}{
				"exp": time.Now().Add(5 * time.Minute).Unix(),
			})
			if err != nil {
				return err
			}
			p.token = signed
		}
	}

	checks := p.checks(projectID)
	failed := 0
	for _, c := range checks {
		if err := c.fn(); err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "❌ %s: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s\n", c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

func (p *smokeClient) checks(project string) []check {
	checks := []check{
		{"liveness", p.checkLiveness},
		{"metrics", p.checkMetrics},
		{"projects", p.checkProjects},
	}
	if project != "" {
		checks = append(checks, check{"prediction", func() error { return p.checkPrediction(project) }})
	}
	return checks
}

func (p *smokeClient) get(path string, auth bool) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if auth && p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("GET %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (p *smokeClient) checkLiveness() error {
	body, err := p.get("/health", false)
	if err != nil {
		return err
	}
	var health LivenessResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("invalid /health body: %w", err)
	}
	if health.Services.Store.Status != "ok" {
		return fmt.Errorf("store is %q: %s", health.Services.Store.Status, health.Services.Store.Error)
	}
	return nil
}

func (p *smokeClient) checkMetrics() error {
	body, err := p.get("/metrics", false)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "logsentinel_") {
		return fmt.Errorf("no logsentinel series exposed")
	}
	return nil
}

func (p *smokeClient) checkProjects() error {
	body, err := p.get("/api/v1/projects", true)
	if err != nil {
		return err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("invalid projects body: %w", err)
	}
	if _, ok := out["projects"]; !ok {
		return fmt.Errorf("projects body without a projects list")
	}
	return nil
}

func (p *smokeClient) checkPrediction(project string) error {
	body, err := p.get("/api/v1/projects/"+project+"/health", true)
	if err != nil {
		return err
	}
	var prediction models.PredictionResult
	if err := json.Unmarshal(body, &prediction); err != nil {
		return fmt.Errorf("invalid prediction body: %w", err)
	}
	if prediction.RiskLevel == "" {
		return fmt.Errorf("prediction without risk level")
	}
	return nil
}
