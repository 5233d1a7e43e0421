// Package domain holds the records, configuration, errors and interfaces
// shared across the biomarker normalizer.
package domain

import (
	"time"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

// TestResultStatus is the lifecycle state of a submitted lab report.
// A record moves processing -> completed or processing -> failed.
type TestResultStatus string

const (
	StatusProcessing TestResultStatus = "processing"
	StatusCompleted  TestResultStatus = "completed"
	StatusFailed     TestResultStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TestResultStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ApprovalStatus records whether a reviewer has released a completed result.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	return s == ApprovalPending || s == ApprovalApproved
}

// DateLayout is the layout of TestResult.TestDate.
const DateLayout = "2006-01-02"

// TestResult is one persisted lab report and its normalized biomarkers.
type TestResult struct {
	ID        string               `json:"id"`
	UserID    string               `json:"userId"`
	TestDate  string               `json:"testDate"`
	FilePath  string               `json:"filePath"`
	LabName   string               `json:"labName"`
	Status    TestResultStatus     `json:"status"`
	Approval  ApprovalStatus       `json:"approvalStatus"`
	Results   *biomarker.ResultSet `json:"results"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Submission is one lab report handed to the pipeline.
type Submission struct {
	FileBytes []byte
	FileName  string
	MimeType  string
	UserID    string
	// TestDate overrides the extracted date when non-empty (YYYY-MM-DD).
	TestDate string
}

// SubmissionResult reports a successfully processed submission.
type SubmissionResult struct {
	Success        bool   `json:"success"`
	TestResultID   string `json:"testResultId"`
	BiomarkerCount int    `json:"biomarkersCount"`
	CorrelationID  string `json:"correlationId"`
}

// ExtractionRequest is the inline file payload sent to the extraction model.
type ExtractionRequest struct {
	FileBytes []byte
	MimeType  string
}
