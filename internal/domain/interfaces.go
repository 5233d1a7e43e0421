package domain

import (
	"context"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

// FileStorage keeps uploaded lab reports
type FileStorage interface {
	// Put stores data at path. It never overwrites: an existing object
	// yields an error wrapping ErrConflict.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
}

// ExtractionClient sends a lab report to the extraction model and returns
// the raw text content of its answer
type ExtractionClient interface {
	Extract(ctx context.Context, req ExtractionRequest) (string, error)
}

// TestResultRepository defines the interface for test result persistence
type TestResultRepository interface {
	Create(ctx context.Context, result *TestResult) error
	Get(ctx context.Context, id string) (*TestResult, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*TestResult, error)
	MarkFailed(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, results *biomarker.ResultSet, testDate string) error
	ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) error
	// Approve releases a completed record for review consumers.
	Approve(ctx context.Context, id string) error
	ListByApproval(ctx context.Context, status ApprovalStatus, limit, offset int) ([]*TestResult, error)
	Delete(ctx context.Context, id string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetExtractionConfig() *ExtractionConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
