package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// SQLiteTestResultRepository keeps test results in a local SQLite file, for
// single-node deployments without PostgreSQL.
type SQLiteTestResultRepository struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteTestResultRepository opens dbPath, creating the file and schema
// if they don't exist.
func NewSQLiteTestResultRepository(dbPath string, logger *logrus.Logger) (*SQLiteTestResultRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Foreign keys are per connection in SQLite, so they go into the DSN.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createTestResultSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteTestResultRepository{
		db:     db,
		dbPath: dbPath,
		log:    logger,
	}, nil
}

// DB exposes the underlying handle so other stores can share the file.
func (r *SQLiteTestResultRepository) DB() *sql.DB {
	return r.db
}

func createTestResultSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS test_results (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		test_date TEXT NOT NULL,
		file_path TEXT NOT NULL,
		lab_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('processing', 'completed', 'failed')),
		approval_status TEXT NOT NULL DEFAULT 'pending' CHECK (approval_status IN ('pending', 'approved')),
		results TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_test_results_user_id ON test_results(user_id);
	CREATE INDEX IF NOT EXISTS idx_test_results_created_at ON test_results(created_at);

	CREATE TABLE IF NOT EXISTS health_summaries (
		id TEXT PRIMARY KEY,
		test_result_id TEXT NOT NULL REFERENCES test_results(id) ON DELETE CASCADE,
		summary TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS action_plans (
		id TEXT PRIMARY KEY,
		test_result_id TEXT NOT NULL REFERENCES test_results(id) ON DELETE CASCADE,
		plan TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS daily_objectives (
		id TEXT PRIMARY KEY,
		action_plan_id TEXT NOT NULL REFERENCES action_plans(id) ON DELETE CASCADE,
		objective TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "test_results", "approval_status",
		"TEXT NOT NULL DEFAULT 'pending' CHECK (approval_status IN ('pending', 'approved'))"); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_test_results_approval ON test_results(approval_status, created_at)")
	return err
}

// addColumnIfMissing upgrades files created before a column existed.
func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

// Create inserts a new test result. An empty ID is filled with a new UUID.
func (r *SQLiteTestResultRepository) Create(ctx context.Context, result *domain.TestResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.Approval == "" {
		result.Approval = domain.ApprovalPending
	}

	raw, err := encodeResults(result.Results)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO test_results (
			id, user_id, test_date, file_path, lab_name, status, approval_status, results, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.UserID,
		result.TestDate,
		result.FilePath,
		result.LabName,
		string(result.Status),
		string(result.Approval),
		nullableText(raw),
		now,
		now,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"test_result_id": result.ID,
			"error":          err,
		}).Error("Failed to create test result")
		return fmt.Errorf("failed to insert: %w", err)
	}

	result.CreatedAt = now
	result.UpdatedAt = now
	return nil
}

// Get retrieves a test result by its ID
func (r *SQLiteTestResultRepository) Get(ctx context.Context, id string) (*domain.TestResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, test_date, file_path, lab_name, status, approval_status, results, created_at, updated_at
		FROM test_results
		WHERE id = ?
	`, id)

	result, err := scanSQLiteTestResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return result, nil
}

// ListByUser returns a user's test results, newest first
func (r *SQLiteTestResultRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TestResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, test_date, file_path, lab_name, status, approval_status, results, created_at, updated_at
		FROM test_results
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		result, err := scanSQLiteTestResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ListByApproval returns completed test results in the given approval
// state, newest first
func (r *SQLiteTestResultRepository) ListByApproval(ctx context.Context, status domain.ApprovalStatus, limit, offset int) ([]*domain.TestResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, test_date, file_path, lab_name, status, approval_status, results, created_at, updated_at
		FROM test_results
		WHERE approval_status = ? AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		result, err := scanSQLiteTestResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// MarkFailed moves a processing record to failed
func (r *SQLiteTestResultRepository) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_results SET status = 'failed', updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Complete stores the results of a processing record and moves it to
// completed. An empty testDate keeps the stored date.
func (r *SQLiteTestResultRepository) Complete(ctx context.Context, id string, results *biomarker.ResultSet, testDate string) error {
	raw, err := encodeResults(results)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE test_results
		SET status = 'completed',
			results = ?,
			test_date = COALESCE(NULLIF(?, ''), test_date),
			updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, nullableText(raw), testDate, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// ReplaceResults overwrites the results of a completed record wholesale
func (r *SQLiteTestResultRepository) ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) error {
	raw, err := encodeResults(results)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE test_results SET results = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'
	`, nullableText(raw), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to replace results: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Approve marks a completed record approved. Approving twice is a no-op.
func (r *SQLiteTestResultRepository) Approve(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_results SET approval_status = 'approved', updated_at = ?
		WHERE id = ? AND status = 'completed'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Delete removes a test result and, through foreign keys, its child rows
func (r *SQLiteTestResultRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM test_results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}
	return nil
}

// Close closes the database
func (r *SQLiteTestResultRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteTestResultRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, "SELECT status FROM test_results WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check state: %w", err)
	}
	return fmt.Errorf("test result is %s: %w", status, domain.ErrInvalidState)
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteTestResult(s scanner) (*domain.TestResult, error) {
	var result domain.TestResult
	var status, approval string
	var raw sql.NullString

	err := s.Scan(
		&result.ID, &result.UserID, &result.TestDate, &result.FilePath, &result.LabName,
		&status, &approval, &raw, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Status = domain.TestResultStatus(status)
	result.Approval = domain.ApprovalStatus(approval)
	if raw.Valid {
		if result.Results, err = decodeResults([]byte(raw.String)); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func nullableText(raw []byte) interface{} {
	if raw == nil {
		return nil
	}
	return string(raw)
}
