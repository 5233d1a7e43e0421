package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/biomarker-normalizer/pkg/biomarker"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	owned  bool
}

// NewSQLiteStore creates a new SQLite correction store in its own file.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		owned:  true,
	}, nil
}

// NewSQLiteStoreFromDB creates a correction store on an already open SQLite
// handle, usually the one of the test result repository. Close leaves the
// shared handle open.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCorrection scans a row into a Correction struct.
func scanCorrection(s scanner) (*Correction, error) {
	c := &Correction{}
	var computed, corrected string

	err := s.Scan(
		&c.ID, &c.TestResultID, &c.Biomarker,
		&computed, &corrected, &c.Agreed,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ComputedStatus = biomarker.Status(computed)
	c.CorrectedStatus = biomarker.Status(corrected)
	return c, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_result_id TEXT NOT NULL,
		biomarker TEXT NOT NULL,
		computed_status TEXT NOT NULL,
		corrected_status TEXT NOT NULL,
		agreed INTEGER NOT NULL DEFAULT 0,
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(test_result_id, biomarker)
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_test_result ON corrections(test_result_id);
	CREATE INDEX IF NOT EXISTS idx_corrections_created_at ON corrections(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const selectCorrection = `
	SELECT id, test_result_id, biomarker,
		computed_status, corrected_status, agreed,
		notes, created_at, updated_at
	FROM corrections`

// Save stores or updates a correction.
func (s *SQLiteStore) Save(ctx context.Context, correction *Correction) error {
	now := time.Now().UTC()

	var existingID int64
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM corrections WHERE test_result_id = ? AND biomarker = ?",
		correction.TestResultID, correction.Biomarker,
	).Scan(&existingID, &createdAt)

	if err == nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE corrections SET
				computed_status = ?,
				corrected_status = ?,
				agreed = ?,
				notes = ?,
				updated_at = ?
			WHERE id = ?
		`,
			string(correction.ComputedStatus),
			string(correction.CorrectedStatus),
			correction.Agreed,
			correction.Notes,
			now,
			existingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update: %w", err)
		}
		correction.ID = existingID
		correction.CreatedAt = createdAt
		correction.UpdatedAt = now
		return nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (
			test_result_id, biomarker,
			computed_status, corrected_status, agreed,
			notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		correction.TestResultID,
		correction.Biomarker,
		string(correction.ComputedStatus),
		string(correction.CorrectedStatus),
		correction.Agreed,
		correction.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	correction.ID = id
	correction.CreatedAt = now
	correction.UpdatedAt = now

	return nil
}

// Get returns the correction for one biomarker, or nil if there is none.
func (s *SQLiteStore) Get(ctx context.Context, testResultID, biomarkerName string) (*Correction, error) {
	row := s.db.QueryRowContext(ctx, selectCorrection+`
		WHERE test_result_id = ? AND biomarker = ?
		LIMIT 1
	`, testResultID, biomarkerName)

	c, err := scanCorrection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return c, nil
}

// ListByTestResult returns the corrections of one test result.
func (s *SQLiteStore) ListByTestResult(ctx context.Context, testResultID string) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, selectCorrection+`
		WHERE test_result_id = ?
		ORDER BY id
	`, testResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// List returns all corrections with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, selectCorrection+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Correction, error) {
	var result []*Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Count returns the total number of corrections.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corrections").Scan(&count)
	return count, err
}

// DeleteByTestResult removes every correction of a test result.
func (s *SQLiteStore) DeleteByTestResult(ctx context.Context, testResultID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM corrections WHERE test_result_id = ?", testResultID)
	return err
}

// ExportJSON exports all corrections to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports corrections from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store. A handle shared through NewSQLiteStoreFromDB
// stays open.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list corrections: %w", err)
	}

	export := &CorrectionExport{
		Version:     exportVersion,
		ExportedAt:  time.Now().UTC(),
		Count:       len(all),
		Corrections: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export CorrectionExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, c := range export.Corrections {
		existing, err := s.Get(ctx, c.TestResultID, c.Biomarker)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, c); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
