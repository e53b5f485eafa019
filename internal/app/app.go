// Package app wires the configured store, sources and model provider into
// the processing services. The server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/db"
	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/services"
	"github.com/autolog/logsentinel/internal/sources"
	"github.com/autolog/logsentinel/internal/store"
)

type App struct {
	Config     *config.Config
	DB         *gorm.DB // nil with the badger store
	Store      store.Store
	Projects   store.ProjectRepository
	LLM        services.LLMClient
	Influx     *sources.InfluxSource // nil unless METRIC_SOURCE=influx
	Embeddings *services.EmbeddingPipeline
	Processor  *services.LogProcessor
	Predictor  *services.HealthPredictor
	Scheduler  *services.Scheduler
}

// backingStore is what both store drivers provide.
type backingStore interface {
	store.Store
	store.ProjectRepository
}

// New opens the store and builds every service. The scheduler is created but
// not started.
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.Projects = st

	logSource, err := a.logSource()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var metricSource services.MetricSource
	if cfg.MetricSource == "influx" {
		a.Influx = sources.NewInfluxSource(sources.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		metricSource = a.Influx
	}

	a.LLM = NewLLMClient(cfg)

	p := cfg.Processing
	a.Embeddings = services.NewEmbeddingPipeline(st, a.LLM, p.EmbedWorkers, p.EmbedTimeout, p.EmbedRateLimit)
	collector := services.NewMetricCollector(metricSource, st, p.MetricWindow, p.MetricTimeout, p.MetricWorkers)
	a.Processor = services.NewLogProcessor(st, st, logSource, a.Embeddings, collector, services.LogProcessorConfig{
		FreshnessThreshold: p.FreshnessThreshold,
		DefaultWindow:      p.DefaultWindow,
	})
	a.Predictor = services.NewHealthPredictor(st, st, a.LLM, services.HealthPredictorConfig{
		MetricWindow:   p.MetricWindow,
		SummaryTimeout: p.SummaryTimeout,
		PredictionTTL:  p.PredictionTTL,
		Policy:         RiskPolicy(cfg.Risk),
	})
	a.Scheduler = services.NewScheduler(a.Processor, st, p.ProcessInterval, p.SchedulerWorkers)

	logger.Info("Application wired", map[string]interface{}{
		"store":         cfg.StoreDriver,
		"log_source":    cfg.LogSource,
		"metric_source": cfg.MetricSource,
		"llm_provider":  a.LLM.Provider(),
		"risk_mode":     cfg.Risk.Mode,
	})
	return a, nil
}

func (a *App) openStore() (backingStore, error) {
	switch a.Config.StoreDriver {
	case "badger":
		return store.OpenBadger(store.DefaultBadgerConfig(a.Config.BadgerPath))
	case "postgres":
		conn, err := db.Connect(a.Config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		gs := store.NewGormStore(conn)
		if err := db.AutoMigrate(conn, gs.Models()...); err != nil {
			return nil, err
		}
		a.DB = conn
		return gs, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
	}
}

func (a *App) logSource() (services.LogSource, error) {
	switch a.Config.LogSource {
	case "loki":
		return sources.NewLokiSource(a.Config.LokiURL), nil
	case "database":
		if a.DB == nil {
			return nil, fmt.Errorf("the database log source needs the postgres store")
		}
		return sources.NewDatabaseSource(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown log source %q", a.Config.LogSource)
	}
}

// NewLLMClient returns the configured model provider.
func NewLLMClient(cfg *config.Config) services.LLMClient {
	if cfg.LLMProvider == "openai" {
		return services.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIEmbedModel, "")
	}
	return services.NewLLMService(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaEmbedModel)
}

// RiskPolicy maps the risk settings onto a threshold policy.
func RiskPolicy(r config.RiskConfig) services.ThresholdPolicy {
	return services.NewThresholdPolicy(r.Mode, services.Thresholds{
		ErrorTrend:  r.ErrorTrendThreshold,
		WarnTrend:   r.WarnTrendThreshold,
		MetricTrend: r.MetricTrendThreshold,
	}, r.AdaptiveFactor)
}

// Ping checks that the store answers.
func (a *App) Ping(ctx context.Context) error {
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	_, err := a.Projects.ListProjects(ctx)
	return err
}

// Close stops the scheduler and releases the store and clients.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Influx != nil {
		a.Influx.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
