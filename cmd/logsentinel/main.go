package main

import (
	"os"

	"github.com/autolog/logsentinel/internal/logger"
)

func main() {
	logger.Initialize()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
