package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-normalizer/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildPath(t *testing.T) {
	now := time.UnixMilli(1709290000123)

	tests := []struct {
		name     string
		fileName string
		expected string
	}{
		{"pdf", "report.pdf", "user-1/1709290000123.pdf"},
		{"multiple dots", "scan.2024.03.jpeg", "user-1/1709290000123.jpeg"},
		{"no extension", "report", "user-1/1709290000123.report"},
		{"trailing dot", "report.", "user-1/1709290000123.bin"},
		{"upper case", "SCAN.PNG", "user-1/1709290000123.PNG"},
		{"slash after last dot", "x./a/b", "user-1/1709290000123.bin"},
		{"traversal", "report.pdf/../../etc", "user-1/1709290000123.bin"},
		{"backslash", `scan.p\df`, "user-1/1709290000123.bin"},
		{"space", "lab report", "user-1/1709290000123.bin"},
		{"non-ascii", "befund.pdfé", "user-1/1709290000123.bin"},
		{"too long", "report." + strings.Repeat("x", 17), "user-1/1709290000123.bin"},
		{"empty", "", "user-1/1709290000123.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildPath("user-1", tt.fileName, now))
		})
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New(domain.StorageConfig{Backend: "ftp"}, newTestLogger())
	assert.Error(t, err)
}

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	s, err := New(domain.StorageConfig{Backend: domain.StorageBackendLocal, LocalDir: root}, newTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "user-1/1.pdf", []byte("report"), "application/pdf"))

	content, err := os.ReadFile(filepath.Join(root, "user-1", "1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "report", string(content))

	err = s.Put(ctx, "user-1/1.pdf", []byte("other"), "application/pdf")
	assert.ErrorIs(t, err, domain.ErrConflict)

	content, err = os.ReadFile(filepath.Join(root, "user-1", "1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "report", string(content), "existing file must not be overwritten")

	require.NoError(t, s.Delete(ctx, "user-1/1.pdf"))
	assert.ErrorIs(t, s.Delete(ctx, "user-1/1.pdf"), domain.ErrNotFound)
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), newTestLogger())
	require.NoError(t, err)

	for _, path := range []string{"../outside.pdf", "/etc/passwd", "a/../../b.pdf"} {
		assert.Error(t, s.Put(context.Background(), path, []byte("x"), "text/plain"), path)
	}
}

type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *mockObjectAPI) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectAPI) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Error(0)
}

var noSuchKey = minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}

func TestMinIOStorage_EnsureBucket(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("BucketExists", mock.Anything, "test-results").Return(false, nil)
	api.On("MakeBucket", mock.Anything, "test-results", minio.MakeBucketOptions{Region: "eu-central-1"}).Return(nil)

	s := NewMinIOStorageWithClient(api, "test-results", "eu-central-1", newTestLogger())
	require.NoError(t, s.EnsureBucket(context.Background()))
	api.AssertExpectations(t)
}

func TestMinIOStorage_Put(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("StatObject", mock.Anything, "test-results", "user-1/1.pdf", mock.Anything).
		Return(minio.ObjectInfo{}, noSuchKey)
	api.On("PutObject", mock.Anything, "test-results", "user-1/1.pdf", mock.Anything, int64(6),
		minio.PutObjectOptions{ContentType: "application/pdf"}).
		Return(minio.UploadInfo{Key: "user-1/1.pdf"}, nil)

	s := NewMinIOStorageWithClient(api, "test-results", "us-east-1", newTestLogger())
	require.NoError(t, s.Put(context.Background(), "user-1/1.pdf", []byte("report"), "application/pdf"))
	api.AssertExpectations(t)
}

func TestMinIOStorage_PutExisting(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("StatObject", mock.Anything, "test-results", "user-1/1.pdf", mock.Anything).
		Return(minio.ObjectInfo{Key: "user-1/1.pdf"}, nil)

	s := NewMinIOStorageWithClient(api, "test-results", "us-east-1", newTestLogger())
	err := s.Put(context.Background(), "user-1/1.pdf", []byte("report"), "application/pdf")
	assert.ErrorIs(t, err, domain.ErrConflict)
	api.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMinIOStorage_PutStatFailure(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("StatObject", mock.Anything, "test-results", "user-1/1.pdf", mock.Anything).
		Return(minio.ObjectInfo{}, errors.New("connection reset"))

	s := NewMinIOStorageWithClient(api, "test-results", "us-east-1", newTestLogger())
	err := s.Put(context.Background(), "user-1/1.pdf", []byte("report"), "application/pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestMinIOStorage_Delete(t *testing.T) {
	api := new(mockObjectAPI)
	api.On("RemoveObject", mock.Anything, "test-results", "user-1/1.pdf", mock.Anything).Return(nil).Once()
	api.On("RemoveObject", mock.Anything, "test-results", "user-1/2.pdf", mock.Anything).Return(noSuchKey).Once()

	s := NewMinIOStorageWithClient(api, "test-results", "us-east-1", newTestLogger())
	require.NoError(t, s.Delete(context.Background(), "user-1/1.pdf"))
	assert.ErrorIs(t, s.Delete(context.Background(), "user-1/2.pdf"), domain.ErrNotFound)
}
