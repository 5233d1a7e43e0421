package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL correction store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL correction store from a connection string.
func NewPostgresStoreFromURL(databaseURL string, maxOpen, maxIdle int, maxLifetime time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

const pgSelectCorrection = `
	SELECT id, test_result_id, biomarker,
		computed_status, corrected_status, agreed,
		notes, created_at, updated_at
	FROM corrections`

// Save stores or updates a correction.
func (s *PostgresStore) Save(ctx context.Context, correction *Correction) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO corrections (
			test_result_id, biomarker,
			computed_status, corrected_status, agreed,
			notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (test_result_id, biomarker) DO UPDATE SET
			computed_status = EXCLUDED.computed_status,
			corrected_status = EXCLUDED.corrected_status,
			agreed = EXCLUDED.agreed,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		correction.TestResultID,
		correction.Biomarker,
		string(correction.ComputedStatus),
		string(correction.CorrectedStatus),
		correction.Agreed,
		correction.Notes,
		now,
		now,
	).Scan(&correction.ID, &correction.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	correction.UpdatedAt = now
	return nil
}

// Get returns the correction for one biomarker, or nil if there is none.
func (s *PostgresStore) Get(ctx context.Context, testResultID, biomarkerName string) (*Correction, error) {
	row := s.db.QueryRowContext(ctx, pgSelectCorrection+`
		WHERE test_result_id = $1 AND biomarker = $2
		LIMIT 1
	`, testResultID, biomarkerName)

	c, err := scanCorrection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return c, nil
}

// ListByTestResult returns the corrections of one test result.
func (s *PostgresStore) ListByTestResult(ctx context.Context, testResultID string) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, pgSelectCorrection+`
		WHERE test_result_id = $1
		ORDER BY id
	`, testResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// List returns all corrections with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, pgSelectCorrection+`
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Count returns the total number of corrections.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corrections").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return count, nil
}

// DeleteByTestResult removes every correction of a test result.
func (s *PostgresStore) DeleteByTestResult(ctx context.Context, testResultID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM corrections WHERE test_result_id = $1", testResultID)
	if err != nil {
		return fmt.Errorf("failed to delete corrections: %w", err)
	}
	return nil
}

// ExportJSON exports all corrections to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports corrections from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
