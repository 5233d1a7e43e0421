package service

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMatcher() *biomarker.Matcher {
	m, err := biomarker.NewMatcher(biomarker.DefaultTaxonomy())
	if err != nil {
		panic(err)
	}
	return m
}

type MockFileStorage struct {
	mock.Mock
}

func (m *MockFileStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	args := m.Called(ctx, path, data, contentType)
	return args.Error(0)
}

func (m *MockFileStorage) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

type MockExtractionClient struct {
	mock.Mock
}

func (m *MockExtractionClient) Extract(ctx context.Context, req domain.ExtractionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockTestResultRepository struct {
	mock.Mock
}

func (m *MockTestResultRepository) Create(ctx context.Context, result *domain.TestResult) error {
	args := m.Called(ctx, result)
	if args.Error(0) == nil && result.ID == "" {
		result.ID = "00000000-0000-0000-0000-000000000001"
	}
	return args.Error(0)
}

func (m *MockTestResultRepository) Get(ctx context.Context, id string) (*domain.TestResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TestResult), args.Error(1)
}

func (m *MockTestResultRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TestResult, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TestResult), args.Error(1)
}

func (m *MockTestResultRepository) MarkFailed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTestResultRepository) Complete(ctx context.Context, id string, results *biomarker.ResultSet, testDate string) error {
	args := m.Called(ctx, id, results, testDate)
	return args.Error(0)
}

func (m *MockTestResultRepository) ReplaceResults(ctx context.Context, id string, results *biomarker.ResultSet) error {
	args := m.Called(ctx, id, results)
	return args.Error(0)
}

func (m *MockTestResultRepository) Approve(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTestResultRepository) ListByApproval(ctx context.Context, status domain.ApprovalStatus, limit, offset int) ([]*domain.TestResult, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TestResult), args.Error(1)
}

func (m *MockTestResultRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
