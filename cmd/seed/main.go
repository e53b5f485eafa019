package main

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"os"
	"time"

	"github.com/autolog/logsentinel/internal/app"
	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/services"
)

// ProjectData is one project entry of the seed file.
type ProjectData struct {
	ProjectID     string   `json:"projectId"`
	Name          string   `json:"name"`
	Enabled       *bool    `json:"enabled"`
	LogGroups     []string `json:"logGroups"`
	MetricTargets []string `json:"metricTargets"`
	FilterPattern string   `json:"filterPattern"`
}

type JSONData struct {
	Projects []ProjectData `json:"projects"`
}

func main() {
	logger.Initialize()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	path := config.Getenv("SEED_FILE", "data/projects.json")
	ctx := context.Background()

	log.Printf("Seeding projects from %s...", path)
	projects, err := seedProjects(ctx, a, path)
	if err != nil {
		log.Printf("Error seeding projects: %v", err)
		return
	}

	if a.Influx != nil {
		log.Println("Writing sample metric datapoints...")
		for _, p := range projects {
			if err := seedMetrics(ctx, a, p); err != nil {
				log.Printf("Error writing metrics for %s: %v", p.ProjectID, err)
			}
		}
	}

	log.Println("✅ Seeding completed successfully!")
}

func seedProjects(ctx context.Context, a *app.App, path string) ([]*models.ProjectState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var jsonData JSONData
	if err := json.Unmarshal(raw, &jsonData); err != nil {
		return nil, err
	}

	var seeded []*models.ProjectState
	for _, pd := range jsonData.Projects {
		if pd.ProjectID == "" {
			log.Printf("⚠️  Skipping project without projectId")
			continue
		}
		enabled := true
		if pd.Enabled != nil {
			enabled = *pd.Enabled
		}
		project := &models.ProjectState{
			ProjectID:     pd.ProjectID,
			Name:          pd.Name,
			Enabled:       enabled,
			LogGroups:     pd.LogGroups,
			MetricTargets: pd.MetricTargets,
			FilterPattern: pd.FilterPattern,
		}
		if existing, err := a.Projects.GetProject(ctx, pd.ProjectID); err == nil {
			// Keep the watermark of a project that was already processed.
			project.LastProcessedTimestamp = existing.LastProcessedTimestamp
			project.CreatedAt = existing.CreatedAt
		}
		if err := a.Projects.SaveProject(ctx, project); err != nil {
			log.Printf("Error saving project %s: %v", pd.ProjectID, err)
			continue
		}
		log.Printf("✅ Saved project: %s (%d log groups)", project.ProjectID, len(project.LogGroups))
		seeded = append(seeded, project)
	}
	return seeded, nil
}

// seedMetrics writes an hour of one-minute datapoints per target, a gentle
// sine wave with a slow upward drift.
func seedMetrics(ctx context.Context, a *app.App, p *models.ProjectState) error {
	now := time.Now().Truncate(time.Minute)
	for i, target := range p.Targets() {
		points := make([]services.Datapoint, 0, 60)
		for m := 60; m > 0; m-- {
			x := float64(60 - m)
			points = append(points, services.Datapoint{
				Timestamp: now.Add(-time.Duration(m) * time.Minute),
				Value:     40 + 10*math.Sin(x/6+float64(i)) + x/4,
			})
		}
		if err := a.Influx.WriteDatapoints(ctx, p.ProjectID, target, points); err != nil {
			return err
		}
		log.Printf("✅ Wrote %d datapoints for %s", len(points), target)
	}
	return nil
}
