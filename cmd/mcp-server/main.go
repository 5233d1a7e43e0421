package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/biomarker-normalizer/internal/app"
	"github.com/biomarker-normalizer/internal/config"
	"github.com/biomarker-normalizer/internal/mcp"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/internal/service"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	corrections := flag.String("corrections-db", "", "SQLite file of clinician corrections to expose")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()

	// stdout carries the protocol
	logCfg := cfg.Logging
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	matcher, err := app.NewMatcher(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load taxonomy")
	}

	var opts []mcp.ServerOption
	if *corrections != "" {
		store, err := review.NewSQLiteStore(*corrections)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open correction store")
		}
		opts = append(opts, mcp.WithCorrections(store))
	}

	// Create MCP server
	mcpServer, err := mcp.NewServer(configManager, service.NewNormalizer(matcher, nil), logger, opts...)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer mcpServer.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	// Start MCP server
	if err := mcpServer.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("Biomarker normalizer MCP server stopped")
}
