package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(values map[string]interface{}) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newTestViper(map[string]interface{}{
		"DATABASE_URL": "postgres://localhost/logsentinel",
		"JWT_SECRET":   "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Processing.FreshnessThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Processing.DefaultWindow)
	assert.Equal(t, 5, cfg.Processing.EmbedWorkers)
	assert.Equal(t, 10*time.Second, cfg.Processing.SummaryTimeout)
	assert.Equal(t, "absolute", cfg.Risk.Mode)
	assert.Equal(t, 0.5, cfg.Risk.ErrorTrendThreshold)
	assert.Equal(t, "ollama", cfg.LLMProvider)
}

func TestDatabaseURLFromParts(t *testing.T) {
	v := newTestViper(map[string]interface{}{
		"DB_HOST":     "db",
		"DB_USER":     "sentinel",
		"DB_PASSWORD": "pw",
		"DB_NAME":     "logs",
		"DB_PORT":     "5432",
	})
	assert.Equal(t, "host=db user=sentinel password=pw dbname=logs port=5432 sslmode=disable", databaseURL(v))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			values:  map[string]interface{}{"JWT_SECRET": "s"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "database log source on badger",
			values:  map[string]interface{}{"STORE_DRIVER": "badger", "LOG_SOURCE": "database", "JWT_SECRET": "s"},
			wantErr: "LOG_SOURCE=database",
		},
		{
			name:    "openai without key",
			values:  map[string]interface{}{"STORE_DRIVER": "badger", "LLM_PROVIDER": "openai", "JWT_SECRET": "s"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "unknown risk mode",
			values:  map[string]interface{}{"STORE_DRIVER": "badger", "RISK_THRESHOLD_MODE": "magic", "JWT_SECRET": "s"},
			wantErr: "RISK_THRESHOLD_MODE",
		},
		{
			name:    "missing jwt secret",
			values:  map[string]interface{}{"STORE_DRIVER": "badger"},
			wantErr: "JWT_SECRET",
		},
		{
			name:   "badger with auth disabled",
			values: map[string]interface{}{"STORE_DRIVER": "badger", "AUTH_DISABLED": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromViper(newTestViper(tt.values))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
