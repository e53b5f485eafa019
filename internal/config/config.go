package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string
	GinMode string

	StoreDriver string // postgres | badger
	DatabaseURL string
	BadgerPath  string

	LogSource    string // loki | database
	LokiURL      string
	MetricSource string // influx | none

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	LLMProvider      string // ollama | openai
	OllamaURL        string
	OllamaModel      string
	OllamaEmbedModel string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIEmbedModel string

	Processing ProcessingConfig
	Risk       RiskConfig

	JWTSecret    string
	AuthDisabled bool
}

type ProcessingConfig struct {
	FreshnessThreshold time.Duration
	DefaultWindow      time.Duration
	EmbedWorkers       int
	EmbedTimeout       time.Duration
	EmbedRateLimit     float64 // requests per second, 0 disables the limiter
	SummaryTimeout     time.Duration
	MetricTimeout      time.Duration
	MetricWindow       time.Duration
	MetricWorkers      int
	PredictionTTL      time.Duration
	ProcessInterval    time.Duration
	SchedulerWorkers   int
}

type RiskConfig struct {
	Mode                 string // absolute | adaptive
	ErrorTrendThreshold  float64
	WarnTrendThreshold   float64
	MetricTrendThreshold float64
	AdaptiveFactor       float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("BADGER_PATH", "data/badger")
	v.SetDefault("LOG_SOURCE", "loki")
	v.SetDefault("LOKI_URL", "http://localhost:3100")
	v.SetDefault("METRIC_SOURCE", "none")
	v.SetDefault("INFLUXDB_URL", "http://localhost:8086")
	v.SetDefault("INFLUXDB_ORG", "logsentinel")
	v.SetDefault("INFLUXDB_BUCKET", "service-metrics")
	v.SetDefault("LLM_PROVIDER", "ollama")
	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3.1:8b")
	v.SetDefault("OLLAMA_EMBED_MODEL", "nomic-embed-text")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_EMBED_MODEL", "text-embedding-3-small")

	v.SetDefault("FRESHNESS_THRESHOLD", "2h")
	v.SetDefault("DEFAULT_WINDOW", "24h")
	v.SetDefault("EMBED_WORKERS", 5)
	v.SetDefault("EMBED_TIMEOUT", "15s")
	v.SetDefault("EMBED_RATE_LIMIT", 0)
	v.SetDefault("SUMMARY_TIMEOUT", "10s")
	v.SetDefault("METRIC_TIMEOUT", "60s")
	v.SetDefault("METRIC_WINDOW", "1h")
	v.SetDefault("METRIC_WORKERS", 4)
	v.SetDefault("PREDICTION_TTL", "5m")
	v.SetDefault("PROCESS_INTERVAL", "5m")
	v.SetDefault("SCHEDULER_WORKERS", 2)

	v.SetDefault("RISK_THRESHOLD_MODE", "absolute")
	v.SetDefault("ERROR_TREND_THRESHOLD", 0.5)
	v.SetDefault("WARN_TREND_THRESHOLD", 1.0)
	v.SetDefault("METRIC_TREND_THRESHOLD", 0.2)
	v.SetDefault("ADAPTIVE_FACTOR", 3.0)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:             v.GetString("PORT"),
		GinMode:          v.GetString("GIN_MODE"),
		StoreDriver:      strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:      databaseURL(v),
		BadgerPath:       v.GetString("BADGER_PATH"),
		LogSource:        strings.ToLower(v.GetString("LOG_SOURCE")),
		LokiURL:          strings.TrimRight(v.GetString("LOKI_URL"), "/"),
		MetricSource:     strings.ToLower(v.GetString("METRIC_SOURCE")),
		InfluxURL:        v.GetString("INFLUXDB_URL"),
		InfluxToken:      v.GetString("INFLUXDB_TOKEN"),
		InfluxOrg:        v.GetString("INFLUXDB_ORG"),
		InfluxBucket:     v.GetString("INFLUXDB_BUCKET"),
		LLMProvider:      strings.ToLower(v.GetString("LLM_PROVIDER")),
		OllamaURL:        strings.TrimRight(v.GetString("OLLAMA_URL"), "/"),
		OllamaModel:      v.GetString("OLLAMA_MODEL"),
		OllamaEmbedModel: v.GetString("OLLAMA_EMBED_MODEL"),
		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIModel:      v.GetString("OPENAI_MODEL"),
		OpenAIEmbedModel: v.GetString("OPENAI_EMBED_MODEL"),
		Processing: ProcessingConfig{
			FreshnessThreshold: v.GetDuration("FRESHNESS_THRESHOLD"),
			DefaultWindow:      v.GetDuration("DEFAULT_WINDOW"),
			EmbedWorkers:       v.GetInt("EMBED_WORKERS"),
			EmbedTimeout:       v.GetDuration("EMBED_TIMEOUT"),
			EmbedRateLimit:     v.GetFloat64("EMBED_RATE_LIMIT"),
			SummaryTimeout:     v.GetDuration("SUMMARY_TIMEOUT"),
			MetricTimeout:      v.GetDuration("METRIC_TIMEOUT"),
			MetricWindow:       v.GetDuration("METRIC_WINDOW"),
			MetricWorkers:      v.GetInt("METRIC_WORKERS"),
			PredictionTTL:      v.GetDuration("PREDICTION_TTL"),
			ProcessInterval:    v.GetDuration("PROCESS_INTERVAL"),
			SchedulerWorkers:   v.GetInt("SCHEDULER_WORKERS"),
		},
		Risk: RiskConfig{
			Mode:                 strings.ToLower(v.GetString("RISK_THRESHOLD_MODE")),
			ErrorTrendThreshold:  v.GetFloat64("ERROR_TREND_THRESHOLD"),
			WarnTrendThreshold:   v.GetFloat64("WARN_TREND_THRESHOLD"),
			MetricTrendThreshold: v.GetFloat64("METRIC_TREND_THRESHOLD"),
			AdaptiveFactor:       v.GetFloat64("ADAPTIVE_FACTOR"),
		},
		JWTSecret:    v.GetString("JWT_SECRET"),
		AuthDisabled: v.GetBool("AUTH_DISABLED"),
	}
	return cfg, cfg.Validate()
}

// databaseURL prefers DATABASE_URL and falls back to the discrete DB_* variables.
func databaseURL(v *viper.Viper) string {
	if dsn := v.GetString("DATABASE_URL"); dsn != "" {
		return dsn
	}
	if v.GetString("DB_HOST") == "" {
		return ""
	}
	sslMode := v.GetString("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		v.GetString("DB_HOST"),
		v.GetString("DB_USER"),
		v.GetString("DB_PASSWORD"),
		v.GetString("DB_NAME"),
		v.GetString("DB_PORT"),
		sslMode,
	)
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL or DB_HOST is required for the postgres store")
		}
	case "badger":
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required for the badger store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.LogSource {
	case "loki", "database":
	default:
		return fmt.Errorf("unknown LOG_SOURCE %q", c.LogSource)
	}
	if c.LogSource == "database" && c.StoreDriver != "postgres" {
		return fmt.Errorf("LOG_SOURCE=database requires STORE_DRIVER=postgres")
	}

	switch c.MetricSource {
	case "influx":
		if c.InfluxToken == "" {
			return fmt.Errorf("INFLUXDB_TOKEN is required when METRIC_SOURCE=influx")
		}
	case "none", "":
	default:
		return fmt.Errorf("unknown METRIC_SOURCE %q", c.MetricSource)
	}

	switch c.LLMProvider {
	case "ollama":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.Risk.Mode {
	case "absolute", "adaptive":
	default:
		return fmt.Errorf("unknown RISK_THRESHOLD_MODE %q", c.Risk.Mode)
	}

	if c.Processing.FreshnessThreshold <= 0 {
		return fmt.Errorf("FRESHNESS_THRESHOLD must be positive")
	}
	if c.Processing.EmbedWorkers <= 0 {
		c.Processing.EmbedWorkers = 5
	}
	if c.Processing.SchedulerWorkers <= 0 {
		c.Processing.SchedulerWorkers = 2
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	return nil
}

// Getenv is a small helper for cmd tools that only need one value.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
