package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/biomarker-normalizer/internal/api"
	"github.com/biomarker-normalizer/internal/app"
	"github.com/biomarker-normalizer/internal/config"
	"github.com/biomarker-normalizer/internal/metrics"
	"github.com/biomarker-normalizer/internal/service"
	"github.com/biomarker-normalizer/internal/storage"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	matcher, err := app.NewMatcher(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load taxonomy")
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer stores.Close()

	fileStorage, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create file storage")
	}

	ext, err := app.NewExtraction(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create extraction client")
	}
	defer ext.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	normalizer := service.NewNormalizer(matcher, m)
	pipeline := service.NewPipeline(fileStorage, ext.Client, stores.Repository, normalizer, logger,
		service.WithLabName(cfg.Pipeline.LabName),
		service.WithMetrics(m),
	)
	results := service.NewResultService(stores.Repository, stores.Corrections, fileStorage, matcher, logger)

	checks := make(map[string]api.HealthCheck, len(stores.Checks)+1)
	for name, check := range stores.Checks {
		checks[name] = check
	}
	if ext.Check != nil {
		checks["cache"] = ext.Check
	}

	stats := make(map[string]api.StatsReporter, len(stores.Stats))
	for name, report := range stores.Stats {
		stats[name] = func() any { return report() }
	}

	server := api.NewServer(configManager, api.Dependencies{
		Pipeline:   pipeline,
		Results:    results,
		Normalizer: normalizer,
		Taxonomy:   matcher.Taxonomy(),
		Metrics:    m,
		Checks:     checks,
		Stats:      stats,
	}, logger)

	logger.WithField("address", cfg.Server.Host).WithField("port", cfg.Server.Port).Info("Starting biomarker normalizer")

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
