package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CorrectionRequest is a clinician's verdict on one stored biomarker
type CorrectionRequest struct {
	TestResultID    string           `json:"-"`
	Biomarker       string           `json:"biomarker"`
	CorrectedStatus biomarker.Status `json:"correctedStatus"`
	Notes           string           `json:"notes"`
}

// ResultService reads and maintains stored test results
type ResultService struct {
	repo        domain.TestResultRepository
	corrections review.Store
	storage     domain.FileStorage
	matcher     *biomarker.Matcher
	logger      *logrus.Logger
}

// NewResultService creates a result service
func NewResultService(
	repo domain.TestResultRepository,
	corrections review.Store,
	fileStorage domain.FileStorage,
	matcher *biomarker.Matcher,
	logger *logrus.Logger,
) *ResultService {
	return &ResultService{
		repo:        repo,
		corrections: corrections,
		storage:     fileStorage,
		matcher:     matcher,
		logger:      logger,
	}
}

// Get loads one test result
func (s *ResultService) Get(ctx context.Context, id string) (*domain.TestResult, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser pages through a user's test results, newest first
func (s *ResultService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TestResult, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is required", userID)
	}
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// ListByApproval pages through completed test results awaiting or past
// review, newest first
func (s *ResultService) ListByApproval(ctx context.Context, status domain.ApprovalStatus, limit, offset int) ([]*domain.TestResult, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("approval", "must be pending or approved", status)
	}
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByApproval(ctx, status, limit, offset)
}

// Approve releases a completed record. Records still processing or failed
// are rejected with ErrInvalidState.
func (s *ResultService) Approve(ctx context.Context, id string) (*domain.TestResult, error) {
	if id == "" {
		return nil, domain.NewValidationError("testResultId", "is required", id)
	}
	if err := s.repo.Approve(ctx, id); err != nil {
		return nil, err
	}

	s.logger.WithField("test_result_id", id).Info("Test result approved")
	return s.repo.Get(ctx, id)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ReplaceResults overwrites the results of a completed record wholesale.
// Nothing is merged with the stored set.
func (s *ResultService) ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) (*domain.TestResult, error) {
	if results == nil {
		return nil, domain.NewValidationError("results", "is required", nil)
	}
	var invalid error
	results.Each(func(name string, b biomarker.ClassifiedBiomarker) {
		if invalid == nil && !b.Status.IsValid() {
			invalid = domain.NewValidationError("results."+name+".status", "is not a known status", b.Status)
		}
	})
	if invalid != nil {
		return nil, invalid
	}

	if err := s.repo.ReplaceResults(ctx, id, results); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"test_result_id":   id,
		"biomarkers_count": results.Len(),
	}).Info("Test results replaced")
	return s.repo.Get(ctx, id)
}

// Reclassify recomputes status, display range and body system of every
// stored biomarker of a completed record.
func (s *ResultService) Reclassify(ctx context.Context, id string) (*domain.TestResult, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("test result is %s: %w", record.Status, domain.ErrInvalidState)
	}

	updated := biomarker.Reclassify(record.Results, s.matcher)
	if err := s.repo.ReplaceResults(ctx, id, updated); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"test_result_id":   id,
		"biomarkers_count": updated.Len(),
	}).Info("Test results reclassified")
	return s.repo.Get(ctx, id)
}

// RecordCorrection stores a clinician's verdict on one biomarker of a
// completed record. Re-recording the same biomarker updates the verdict.
func (s *ResultService) RecordCorrection(ctx context.Context, req CorrectionRequest) (*review.Correction, error) {
	if req.Biomarker == "" {
		return nil, domain.NewValidationError("biomarker", "is required", req.Biomarker)
	}
	if !req.CorrectedStatus.IsValid() {
		return nil, domain.NewValidationError("correctedStatus", "is not a known status", req.CorrectedStatus)
	}

	record, err := s.repo.Get(ctx, req.TestResultID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("test result is %s: %w", record.Status, domain.ErrInvalidState)
	}

	stored, ok := record.Results.Get(req.Biomarker)
	if !ok {
		return nil, fmt.Errorf("biomarker %q: %w", req.Biomarker, domain.ErrNotFound)
	}

	correction := &review.Correction{
		TestResultID:    record.ID,
		Biomarker:       req.Biomarker,
		ComputedStatus:  stored.Status,
		CorrectedStatus: req.CorrectedStatus,
		Agreed:          stored.Status == req.CorrectedStatus,
		Notes:           req.Notes,
	}
	if err := s.corrections.Save(ctx, correction); err != nil {
		return nil, fmt.Errorf("saving correction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"test_result_id": record.ID,
		"biomarker":      req.Biomarker,
		"agreed":         correction.Agreed,
	}).Info("Correction recorded")
	return correction, nil
}

// Corrections lists the corrections of one record
func (s *ResultService) Corrections(ctx context.Context, id string) ([]*review.Correction, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.corrections.ListByTestResult(ctx, id)
}

// Delete removes a record, its child rows and corrections, then the stored
// source file. A file that cannot be removed is only logged.
func (s *ResultService) Delete(ctx context.Context, id string) error {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.corrections.DeleteByTestResult(ctx, id); err != nil {
		return fmt.Errorf("deleting corrections: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	log := s.logger.WithFields(logrus.Fields{
		"test_result_id": id,
		"file_path":      record.FilePath,
	})
	if record.FilePath != "" {
		if err := s.storage.Delete(ctx, record.FilePath); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Warn("Failed to delete stored file")
		}
	}
	log.Info("Test result deleted")
	return nil
}
