package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/metrics"
	"github.com/biomarker-normalizer/internal/middleware"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/internal/service"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

const shutdownTimeout = 30 * time.Second

// SubmissionProcessor runs lab report submissions
type SubmissionProcessor interface {
	Process(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error)
}

// ResultManager reads and maintains stored test results
type ResultManager interface {
	Get(ctx context.Context, id string) (*domain.TestResult, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TestResult, error)
	ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) (*domain.TestResult, error)
	Reclassify(ctx context.Context, id string) (*domain.TestResult, error)
	Approve(ctx context.Context, id string) (*domain.TestResult, error)
	ListByApproval(ctx context.Context, status domain.ApprovalStatus, limit, offset int) ([]*domain.TestResult, error)
	RecordCorrection(ctx context.Context, req service.CorrectionRequest) (*review.Correction, error)
	Corrections(ctx context.Context, id string) ([]*review.Correction, error)
	Delete(ctx context.Context, id string) error
}

// ExtractionNormalizer normalizes extraction text without persisting it
type ExtractionNormalizer interface {
	Normalize(text string) (*service.NormalizeOutcome, error)
}

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// StatsReporter returns a JSON-encodable usage summary of one dependency
type StatsReporter func() any

// Dependencies are the services behind the HTTP routes
type Dependencies struct {
	Pipeline   SubmissionProcessor
	Results    ResultManager
	Normalizer ExtractionNormalizer
	Taxonomy   *biomarker.Taxonomy
	Metrics    *metrics.Metrics
	Checks     map[string]HealthCheck
	Stats      map[string]StatsReporter
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment, leaving test mode alone
	if gin.Mode() != gin.TestMode {
		if cfg.Logging.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	router := gin.New()

	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	router.Use(middleware.BodyLimit(cfg.Server.MaxUploadBytes))
	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}

	s := &Server{
		configManager: configManager,
		deps:          deps,
		logger:        logger,
		router:        router,
	}

	s.setupRoutes()

	return s
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	metricsPath := s.configManager.GetConfig().Metrics.Path
	if s.deps.Metrics != nil && metricsPath != "" {
		s.router.GET(metricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/taxonomy", s.handleTaxonomy)
		v1.POST("/normalize", s.handleNormalize)

		v1.POST("/test-results/analyze", s.handleAnalyze)
		v1.GET("/test-results", s.handleListByApproval)
		v1.GET("/test-results/:id", s.handleGetTestResult)
		v1.PUT("/test-results/:id/results", s.handleReplaceResults)
		v1.POST("/test-results/:id/reclassify", s.handleReclassify)
		v1.POST("/test-results/:id/corrections", s.handleRecordCorrection)
		v1.GET("/test-results/:id/corrections", s.handleListCorrections)
		v1.POST("/test-results/:id/approve", s.handleApprove)
		v1.DELETE("/test-results/:id", s.handleDeleteTestResult)

		v1.GET("/users/:userId/test-results", s.handleListTestResults)
	}

	// Routes kept for clients of the first backend
	legacy := s.router.Group("/api")
	{
		legacy.POST("/analyze-test", s.handleAnalyze)
		legacy.POST("/delete-test-result", s.handleLegacyDelete)
		legacy.GET("/pending-content", s.handleLegacyContent(domain.ApprovalPending))
		legacy.GET("/approved-content", s.handleLegacyContent(domain.ApprovalApproved))
		legacy.POST("/approve-content", s.handleLegacyApprove)
	}
}

// handleHealth reports liveness and the state of every dependency check
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	body := gin.H{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"checks":    checks,
	}
	if len(s.deps.Stats) > 0 {
		stats := make(map[string]any, len(s.deps.Stats))
		for name, report := range s.deps.Stats {
			stats[name] = report()
		}
		body["stats"] = stats
	}
	c.JSON(status, body)
}
