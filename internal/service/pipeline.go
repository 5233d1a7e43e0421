package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/extraction"
	"github.com/biomarker-normalizer/internal/metrics"
	"github.com/biomarker-normalizer/internal/storage"
)

// DefaultLabName is stored on every record unless configured otherwise.
const DefaultLabName = "SYNLAB"

// outcomeCompleted labels successful submissions in metrics.
const outcomeCompleted = "completed"

// Pipeline turns one uploaded lab report into a completed test result.
// Submissions are independent and may run concurrently.
type Pipeline struct {
	storage    domain.FileStorage
	extractor  domain.ExtractionClient
	repo       domain.TestResultRepository
	normalizer *Normalizer
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	labName    string
	now        func() time.Time
	newID      func() string
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithLabName sets the lab name stored on new records
func WithLabName(name string) PipelineOption {
	return func(p *Pipeline) {
		if name != "" {
			p.labName = name
		}
	}
}

// WithMetrics records stage timings and outcomes
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock replaces time.Now, for upload paths and default test dates
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithCorrelationIDs replaces the correlation id generator
func WithCorrelationIDs(newID func() string) PipelineOption {
	return func(p *Pipeline) {
		p.newID = newID
	}
}

// NewPipeline creates a submission pipeline
func NewPipeline(
	fileStorage domain.FileStorage,
	extractor domain.ExtractionClient,
	repo domain.TestResultRepository,
	normalizer *Normalizer,
	logger *logrus.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		storage:    fileStorage,
		extractor:  extractor,
		repo:       repo,
		normalizer: normalizer,
		logger:     logger,
		labName:    DefaultLabName,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidateSubmission checks the required fields of a submission
func ValidateSubmission(sub domain.Submission) error {
	switch {
	case len(sub.FileBytes) == 0:
		return domain.NewValidationError("fileBase64", "is required", nil)
	case strings.TrimSpace(sub.FileName) == "":
		return domain.NewValidationError("fileName", "is required", sub.FileName)
	case strings.TrimSpace(sub.MimeType) == "":
		return domain.NewValidationError("mimeType", "is required", sub.MimeType)
	case strings.TrimSpace(sub.UserID) == "":
		return domain.NewValidationError("userId", "is required", sub.UserID)
	}
	if sub.TestDate != "" && !validDate(sub.TestDate) {
		return domain.NewValidationError("testDate", "must be YYYY-MM-DD", sub.TestDate)
	}
	return nil
}

func validDate(s string) bool {
	_, err := time.Parse(domain.DateLayout, s)
	return err == nil
}

// Process runs one submission: upload, record creation, extraction call,
// parse, validation, classification and persistence. Every failure is a
// *domain.PipelineError carrying the submission's correlation id, and a
// record created along the way is left failed, never processing. The
// correlation id comes from ctx when one is attached.
func (p *Pipeline) Process(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error) {
	if err := ValidateSubmission(sub); err != nil {
		return nil, err
	}

	correlationID, ok := domain.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = p.newID()
	}
	log := p.logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"user_id":        sub.UserID,
	})
	log.WithFields(logrus.Fields{
		"file_name": sub.FileName,
		"mime_type": sub.MimeType,
		"size":      len(sub.FileBytes),
	}).Info("Processing lab report")

	now := p.now()

	// Upload
	path := storage.BuildPath(sub.UserID, sub.FileName, now)
	started := time.Now()
	err := p.storage.Put(ctx, path, sub.FileBytes, sub.MimeType)
	p.metrics.ObserveStage(metrics.StageUpload, started, err)
	if err != nil {
		return nil, p.fail(ctx, log, "", domain.NewPipelineError(
			domain.FailureUpload, "Failed to upload file to storage", correlationID, err))
	}

	// Record
	testDate := sub.TestDate
	if testDate == "" {
		testDate = now.UTC().Format(domain.DateLayout)
	}
	record := &domain.TestResult{
		UserID:   sub.UserID,
		TestDate: testDate,
		FilePath: path,
		LabName:  p.labName,
		Status:   domain.StatusProcessing,
	}
	started = time.Now()
	err = p.repo.Create(ctx, record)
	p.metrics.ObserveStage(metrics.StageCreate, started, err)
	if err != nil {
		if delErr := p.storage.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			log.WithError(delErr).WithField("file_path", path).Warn("Failed to remove orphaned upload")
		}
		return nil, p.fail(ctx, log, record.ID, domain.NewPipelineError(
			domain.FailureUnknown, "Failed to create test result record", correlationID, err))
	}
	log = log.WithField("test_result_id", record.ID)

	// Extraction call
	started = time.Now()
	content, err := p.extractor.Extract(ctx, domain.ExtractionRequest{
		FileBytes: sub.FileBytes,
		MimeType:  sub.MimeType,
	})
	p.metrics.ObserveStage(metrics.StageExtraction, started, err)
	if err != nil {
		return nil, p.fail(ctx, log, record.ID, extractionFailure(err, correlationID))
	}

	// Parse, validate, match, classify
	outcome, err := p.normalizer.Normalize(content)
	if err != nil {
		return nil, p.fail(ctx, log, record.ID, normalizeFailure(err, correlationID))
	}
	log.WithFields(logrus.Fields{
		"accepted": outcome.Accepted,
		"rejected": outcome.Rejected,
	}).Info("Biomarkers validated")

	// Persist
	completedDate := sub.TestDate
	if completedDate == "" && outcome.TestDate != nil {
		if validDate(*outcome.TestDate) {
			completedDate = *outcome.TestDate
		} else {
			log.WithField("test_date", *outcome.TestDate).Warn("Ignoring unparseable extracted test date")
		}
	}

	started = time.Now()
	err = p.repo.Complete(ctx, record.ID, outcome.Results, completedDate)
	p.metrics.ObserveStage(metrics.StagePersist, started, err)
	if err != nil {
		return nil, p.fail(ctx, log, record.ID, domain.NewPipelineError(
			domain.FailureUnknown, "Failed to store test results", correlationID, err))
	}

	p.metrics.Submission(outcomeCompleted)
	log.WithField("biomarkers_count", outcome.Results.Len()).Info("Lab report processed")

	return &domain.SubmissionResult{
		Success:        true,
		TestResultID:   record.ID,
		BiomarkerCount: outcome.Results.Len(),
		CorrelationID:  correlationID,
	}, nil
}

func extractionFailure(err error, correlationID string) *domain.PipelineError {
	pe := domain.NewPipelineError(domain.FailureExtractionCall, "AI extraction failed", correlationID, err)

	var upstream *extraction.ExtractionError
	switch {
	case errors.As(err, &upstream):
		pe.StatusCode = upstream.StatusCode
		pe.Detail = upstream.Detail
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		pe.Detail = "extraction service temporarily unavailable"
	default:
		pe.Detail = err.Error()
	}
	return pe
}

func normalizeFailure(err error, correlationID string) *domain.PipelineError {
	switch {
	case errors.Is(err, extraction.ErrNoBiomarkers):
		return domain.NewPipelineError(domain.FailureNoBiomarkers, "No biomarkers extracted", correlationID, err)
	case errors.Is(err, ErrEmptyValidatedSet):
		return domain.NewPipelineError(domain.FailureEmptyValidatedSet, "No valid biomarkers extracted", correlationID, err)
	case errors.Is(err, extraction.ErrMalformedPayload):
		return domain.NewPipelineError(domain.FailureParse, "Failed to parse AI response", correlationID, err)
	}
	return domain.NewPipelineError(domain.FailureUnknown, "Unknown error occurred", correlationID, err)
}

// fail marks the record failed when there is one, logs, and returns pe.
// The status update runs even if ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, log *logrus.Entry, recordID string, pe *domain.PipelineError) error {
	if recordID != "" {
		if err := p.repo.MarkFailed(context.WithoutCancel(ctx), recordID); err != nil {
			log.WithError(err).Error("Failed to mark test result as failed")
		}
	}

	p.metrics.Submission(string(pe.Kind))
	entry := log.WithField("code", pe.Kind)
	if pe.Err != nil {
		entry = entry.WithError(pe.Err)
	}
	if pe.StatusCode != 0 {
		entry = entry.WithField("upstream_status", pe.StatusCode)
	}
	entry.Error(pe.Message)
	return pe
}
