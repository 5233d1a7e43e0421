// Package review stores clinician corrections of computed biomarker statuses.
// Corrections record where the range classification disagreed with a
// reviewer, so thresholds and the taxonomy can be revisited later.
package review

import (
	"context"
	"io"
	"time"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

// Correction is a clinician's verdict on one biomarker of a completed result.
type Correction struct {
	ID              int64            `json:"id,omitempty"`
	TestResultID    string           `json:"test_result_id"`
	Biomarker       string           `json:"biomarker"`        // Original extracted name
	ComputedStatus  biomarker.Status `json:"computed_status"`  // Status the classifier assigned
	CorrectedStatus biomarker.Status `json:"corrected_status"` // Reviewer's decision
	Agreed          bool             `json:"agreed"`
	Notes           string           `json:"notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Store defines the interface for correction storage operations.
type Store interface {
	// Save stores or updates a correction. A correction for the same
	// test result and biomarker is updated in place.
	Save(ctx context.Context, correction *Correction) error

	// Get returns the correction for one biomarker, or nil if there is none.
	Get(ctx context.Context, testResultID, biomarkerName string) (*Correction, error)

	// ListByTestResult returns the corrections of one test result.
	ListByTestResult(ctx context.Context, testResultID string) ([]*Correction, error)

	// List returns all corrections with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*Correction, error)

	// Count returns the total number of corrections.
	Count(ctx context.Context) (int64, error)

	// DeleteByTestResult removes every correction of a test result.
	DeleteByTestResult(ctx context.Context, testResultID string) error

	// ExportJSON exports all corrections to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports corrections from a JSON reader, skipping ones
	// that already exist.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// CorrectionExport represents the JSON export format.
type CorrectionExport struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	Count       int           `json:"count"`
	Corrections []*Correction `json:"corrections"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

const exportVersion = "1.0"

// Agreement returns the fraction of corrections where the reviewer agreed
// with the computed status. It returns 0 for an empty slice.
func Agreement(corrections []*Correction) float64 {
	if len(corrections) == 0 {
		return 0
	}
	agreed := 0
	for _, c := range corrections {
		if c.Agreed {
			agreed++
		}
	}
	return float64(agreed) / float64(len(corrections))
}
