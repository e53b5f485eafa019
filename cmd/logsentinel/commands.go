package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/autolog/logsentinel/internal/app"
	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/middleware"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

var (
	waitMetrics   time.Duration
	projectName   string
	logGroups     []string
	metricTargets []string
	filterPattern string
	disabled      bool
	tokenSubject  string
	tokenTTL      time.Duration

	rootCmd = &cobra.Command{
		Use:          "logsentinel",
		Short:        "Summarize service logs and predict failure risk per project",
		SilenceUsage: true,
	}

	processCmd = &cobra.Command{
		Use:   "process [projectId]",
		Short: "Run one processing pass for a project and print its stats",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	}

	healthCmd = &cobra.Command{
		Use:   "health [projectId]",
		Short: "Print the current health prediction of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runHealth,
	}

	projectsCmd = &cobra.Command{
		Use:   "projects",
		Short: "Manage monitored projects",
	}
	projectsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List configured projects",
		Args:  cobra.NoArgs,
		RunE:  runProjectsList,
	}
	projectsAddCmd = &cobra.Command{
		Use:   "add [projectId]",
		Short: "Create or update a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runProjectsAdd,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
)

func init() {
	processCmd.Flags().DurationVar(&waitMetrics, "wait-metrics", 0, "wait up to this long for the background metric collection")

	projectsAddCmd.Flags().StringVar(&projectName, "name", "", "display name")
	projectsAddCmd.Flags().StringSliceVar(&logGroups, "log-group", nil, "log group to read (repeatable)")
	projectsAddCmd.Flags().StringSliceVar(&metricTargets, "metric", nil, "metric target as service/metric (repeatable)")
	projectsAddCmd.Flags().StringVar(&filterPattern, "filter", "", "regular expression applied by the log source")
	projectsAddCmd.Flags().BoolVar(&disabled, "disabled", false, "create the project disabled")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	projectsCmd.AddCommand(projectsListCmd, projectsAddCmd)
	rootCmd.AddCommand(processCmd, healthCmd, projectsCmd, tokenCmd)
}

// withApp loads the configuration, wires the application and closes it after fn.
func withApp(fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runProcess(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		stats, err := a.Processor.ProcessLogs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), stats); err != nil {
			return err
		}
		if waitMetrics <= 0 || stats.MetricCollection == nil {
			return nil
		}
		select {
		case report := <-stats.MetricCollection:
			return printJSON(cmd.OutOrStdout(), report)
		case <-time.After(waitMetrics):
			fmt.Fprintln(cmd.ErrOrStderr(), "metric collection still running")
			return nil
		}
	})
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		prediction, err := a.Predictor.GetHealth(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), prediction)
	})
}

func runProjectsList(cmd *cobra.Command, _ []string) error {
	return withApp(func(a *app.App) error {
		projects, err := a.Projects.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, p := range projects {
			watermark := "never"
			if !p.Watermark().IsZero() {
				watermark = p.Watermark().UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%-24s enabled=%-5t last_processed=%s groups=%v\n", p.ProjectID, p.Enabled, watermark, []string(p.LogGroups))
		}
		return nil
	})
}

func runProjectsAdd(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App) error {
		ctx := cmd.Context()
		project, err := a.Projects.GetProject(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			project = &models.ProjectState{ProjectID: args[0]}
		} else if err != nil {
			return err
		}

		project.Enabled = !disabled
		if projectName != "" {
			project.Name = projectName
		}
		if cmd.Flags().Changed("log-group") {
			project.LogGroups = logGroups
		}
		if cmd.Flags().Changed("metric") {
			project.MetricTargets = metricTargets
		}
		if cmd.Flags().Changed("filter") {
			project.FilterPattern = filterPattern
		}

		if err := a.Projects.SaveProject(ctx, project); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), project)
	})
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, tokenSubject, map[string]interface{}{
		"exp": time.Now().Add(tokenTTL).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
