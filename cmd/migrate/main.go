package main

import (
	"log"

	"github.com/autolog/logsentinel/internal/config"
	"github.com/autolog/logsentinel/internal/db"
	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/store"
)

func main() {
	logger.Initialize()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		log.Fatalf("Migrations only apply to STORE_DRIVER=postgres (got %q)", cfg.StoreDriver)
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(conn, store.NewGormStore(conn).Models()...); err != nil {
		log.Fatal(err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
