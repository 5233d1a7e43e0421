package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// TestResultRepository handles test result persistence in PostgreSQL
type TestResultRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewTestResultRepository creates a new test result repository
func NewTestResultRepository(db *pgxpool.Pool, logger *logrus.Logger) *TestResultRepository {
	return &TestResultRepository{
		db:  db,
		log: logger,
	}
}

const selectTestResult = `
	SELECT id::text, user_id, test_date::text, file_path, lab_name, status,
		   approval_status, results, created_at, updated_at
	FROM test_results`

// Create inserts a new test result. An empty ID is filled with a new UUID.
func (r *TestResultRepository) Create(ctx context.Context, result *domain.TestResult) error {
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

	query := `
		INSERT INTO test_results (
			id, user_id, test_date, file_path, lab_name, status, approval_status, results
		) VALUES (
			$1, $2, $3::date, $4, $5, $6, $7, $8
		)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		result.ID,
		result.UserID,
		result.TestDate,
		result.FilePath,
		result.LabName,
		string(result.Status),
		string(result.Approval),
		raw,
	).Scan(&result.CreatedAt, &result.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"test_result_id": result.ID,
			"user_id":        result.UserID,
			"error":          err,
		}).Error("Failed to create test result")
		return fmt.Errorf("creating test result: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"test_result_id": result.ID,
		"user_id":        result.UserID,
		"status":         result.Status,
	}).Info("Test result created")

	return nil
}

// Get retrieves a test result by its ID
func (r *TestResultRepository) Get(ctx context.Context, id string) (*domain.TestResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}

	result, err := scanTestResult(r.db.QueryRow(ctx, selectTestResult+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("test result not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"test_result_id": id,
			"error":          err,
		}).Error("Failed to get test result")
		return nil, fmt.Errorf("getting test result: %w", err)
	}

	return result, nil
}

// ListByUser retrieves a user's test results, newest first
func (r *TestResultRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TestResult, error) {
	rows, err := r.db.Query(ctx, selectTestResult+`
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to list test results")
		return nil, fmt.Errorf("listing test results: %w", err)
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		result, err := scanTestResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning test result row: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating test result rows: %w", err)
	}

	return results, nil
}

// ListByApproval retrieves completed test results in the given approval
// state, newest first
func (r *TestResultRepository) ListByApproval(ctx context.Context, status domain.ApprovalStatus, limit, offset int) ([]*domain.TestResult, error) {
	rows, err := r.db.Query(ctx, selectTestResult+`
		WHERE approval_status = $1 AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"approval_status": status,
			"error":           err,
		}).Error("Failed to list test results by approval")
		return nil, fmt.Errorf("listing test results by approval: %w", err)
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		result, err := scanTestResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning test result row: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating test result rows: %w", err)
	}

	return results, nil
}

// MarkFailed moves a processing record to failed
func (r *TestResultRepository) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE test_results
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("marking test result failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrWrongState(ctx, id)
	}
	return nil
}

// Complete stores the results of a processing record and moves it to
// completed. An empty testDate keeps the stored date.
func (r *TestResultRepository) Complete(ctx context.Context, id string, results *biomarker.ResultSet, testDate string) error {
	raw, err := encodeResults(results)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE test_results
		SET status = 'completed',
			results = $2,
			test_date = COALESCE(NULLIF($3, '')::date, test_date),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, raw, testDate)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"test_result_id": id,
			"error":          err,
		}).Error("Failed to complete test result")
		return fmt.Errorf("completing test result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrWrongState(ctx, id)
	}

	r.log.WithFields(logrus.Fields{
		"test_result_id":   id,
		"biomarkers_count": results.Len(),
	}).Info("Test result completed")

	return nil
}

// ReplaceResults overwrites the results of a completed record wholesale
func (r *TestResultRepository) ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) error {
	raw, err := encodeResults(results)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE test_results
		SET results = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`, id, raw)
	if err != nil {
		return fmt.Errorf("replacing test results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrWrongState(ctx, id)
	}
	return nil
}

// Approve marks a completed record approved. Approving twice is a no-op.
func (r *TestResultRepository) Approve(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE test_results
		SET approval_status = 'approved', updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`, id)
	if err != nil {
		return fmt.Errorf("approving test result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrWrongState(ctx, id)
	}

	r.log.WithFields(logrus.Fields{
		"test_result_id": id,
	}).Info("Test result approved")

	return nil
}

// Delete removes a test result; child rows go with it via ON DELETE CASCADE
func (r *TestResultRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM test_results WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"test_result_id": id,
			"error":          err,
		}).Error("Failed to delete test result")
		return fmt.Errorf("deleting test result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"test_result_id": id,
	}).Info("Test result deleted")

	return nil
}

func (r *TestResultRepository) missingOrWrongState(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM test_results WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("test result not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking test result state: %w", err)
	}
	return fmt.Errorf("test result is %s: %w", status, domain.ErrInvalidState)
}

func scanTestResult(row pgx.Row) (*domain.TestResult, error) {
	var result domain.TestResult
	var status, approval string
	var raw []byte

	err := row.Scan(
		&result.ID,
		&result.UserID,
		&result.TestDate,
		&result.FilePath,
		&result.LabName,
		&status,
		&approval,
		&raw,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Status = domain.TestResultStatus(status)
	result.Approval = domain.ApprovalStatus(approval)
	if result.Results, err = decodeResults(raw); err != nil {
		return nil, err
	}
	return &result, nil
}
