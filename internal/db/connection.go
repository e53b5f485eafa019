package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
)

// Connect opens the Postgres connection used by the gorm store and the
// database log source.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Database connected successfully", nil)
	return db, nil
}

// AutoMigrate creates the vector extension and migrates every table, one at a
// time so a failure names the table. extra carries row types owned by other
// packages, such as the store's embedding rows.
func AutoMigrate(db *gorm.DB, extra ...interface{}) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}

	tables := append([]interface{}{
		&models.ProjectState{},
		&models.LogEntry{},
		&models.LogSummary{},
		&models.MetricSnapshot{},
		&models.PredictionResult{},
	}, extra...)

	for _, m := range tables {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("migration of %T failed: %w", m, err)
		}
		logger.Debug("Table migrated", map[string]interface{}{"model": fmt.Sprintf("%T", m)})
	}

	logger.Info("All database migrations completed successfully", nil)
	return nil
}
