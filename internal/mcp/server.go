// Package mcp exposes biomarker normalization as MCP tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/internal/service"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// Server represents the biomarker normalizer MCP server
type Server struct {
	config      domain.ConfigManager
	mcpServer   *mcp.Server
	normalizer  *service.Normalizer
	matcher     *biomarker.Matcher
	corrections review.Store
	logger      *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithCorrections exposes stored clinician corrections through the
// correction tools. Without a store those tools are not registered.
func WithCorrections(store review.Store) ServerOption {
	return func(s *Server) {
		s.corrections = store
	}
}

// NewServer creates a new MCP server instance
func NewServer(configManager domain.ConfigManager, normalizer *service.Normalizer, logger *logrus.Logger, opts ...ServerOption) (*Server, error) {
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}

	cfg := configManager.GetConfig().MCP
	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}
	if serverInfo.Name == "" {
		serverInfo.Name = "biomarker-normalizer"
	}
	if serverInfo.Version == "" {
		serverInfo.Version = "v0.1.0"
	}

	server := &Server{
		config:     configManager,
		mcpServer:  mcp.NewServer(serverInfo, nil),
		normalizer: normalizer,
		matcher:    normalizer.Matcher(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.registerTools()

	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client leaves
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting biomarker normalizer MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the correction store, if any
func (s *Server) Close() error {
	if s.corrections != nil {
		if err := s.corrections.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close correction store")
			return err
		}
	}
	return nil
}

// registerTools registers every MCP tool
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "normalize_extraction",
		Description: "Parse, validate, match and classify the raw JSON answer of a lab report extraction. Nothing is stored.",
	}, s.handleNormalizeExtraction)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "match_biomarker",
		Description: "Resolve a free-text biomarker name to its canonical taxonomy name and body system.",
	}, s.handleMatchBiomarker)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_value",
		Description: "Classify a measured value against optional reference bounds as in-range, borderline, out-of-range or unknown.",
	}, s.handleClassifyValue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_taxonomy",
		Description: "List the canonical biomarker names grouped by body system.",
	}, s.handleListTaxonomy)

	registered := 4
	if s.corrections != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "list_corrections",
			Description: "List clinician corrections of computed statuses, newest first, with the agreement rate.",
		}, s.handleListCorrections)
		registered++
	}

	s.logger.WithField("tool_count", registered).Info("Registered MCP tools")
}
