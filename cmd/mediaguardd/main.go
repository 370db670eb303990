package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"mediaguard/internal/config"
	"mediaguard/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	envFile := flag.String("env-file", "", "Load environment overrides from this file")
	flag.Parse()

	if err := loadEnv(*envFile); err != nil {
		log.Fatalf("load env file: %v", err)
	}

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		log.Fatalf("mediaguardd: %v", err)
	}
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	return godotenv.Load(path)
}
