package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/biomarker-normalizer/internal/database"
	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

// generateTestPassword creates a secure random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := newTestLogger()

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	migrationRunner, err := database.NewEmbeddedMigrationRunner(config.URL(), logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	if v, err := migrationRunner.Version(); err != nil || v.Version != 2 || v.Dirty {
		t.Fatalf("Unexpected schema version %+v: %v", v, err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func TestTestResultRepository_Lifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTestResultRepository(db.Pool, newTestLogger())
	ctx := context.Background()

	record := newProcessingRecord("user-1")
	require.NoError(t, repo.Create(ctx, record))
	_, err := uuid.Parse(record.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Complete(ctx, record.ID, sampleResults(), "2024-02-28"))

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "2024-02-28", got.TestDate)
	assert.Equal(t, []string{"TSH", "Ferritin"}, got.Results.Names(), "JSON column keeps key order")

	err = repo.MarkFailed(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTestResultRepository_ReplaceAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTestResultRepository(db.Pool, newTestLogger())
	ctx := context.Background()

	first := newProcessingRecord("user-1")
	second := newProcessingRecord("user-1")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	assert.ErrorIs(t, repo.ReplaceResults(ctx, first.ID, sampleResults()), domain.ErrInvalidState)

	require.NoError(t, repo.Complete(ctx, first.ID, sampleResults(), ""))
	replacement := biomarker.NewResultSet()
	replacement.Set("Eisen", biomarker.ClassifiedBiomarker{Value: 80, Unit: "µg/dl", Status: biomarker.StatusUnknown, DisplayRange: "N/A", BodySystem: biomarker.BodySystemMinerals})
	require.NoError(t, repo.ReplaceResults(ctx, first.ID, replacement))

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eisen"}, got.Results.Names())
	assert.Equal(t, "2024-03-01", got.TestDate)

	list, err := repo.ListByUser(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestTestResultRepository_Approval(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTestResultRepository(db.Pool, newTestLogger())
	ctx := context.Background()

	processing := newProcessingRecord("user-1")
	completed := newProcessingRecord("user-1")
	require.NoError(t, repo.Create(ctx, processing))
	require.NoError(t, repo.Create(ctx, completed))
	require.NoError(t, repo.Complete(ctx, completed.ID, sampleResults(), ""))

	pending, err := repo.ListByApproval(ctx, domain.ApprovalPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, completed.ID, pending[0].ID)

	assert.ErrorIs(t, repo.Approve(ctx, processing.ID), domain.ErrInvalidState)
	assert.ErrorIs(t, repo.Approve(ctx, uuid.New().String()), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Approve(ctx, "not-a-uuid"), domain.ErrNotFound)

	require.NoError(t, repo.Approve(ctx, completed.ID))

	got, err := repo.Get(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, got.Approval)

	approved, err := repo.ListByApproval(ctx, domain.ApprovalApproved, 10, 0)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, completed.ID, approved[0].ID)

	pending, err = repo.ListByApproval(ctx, domain.ApprovalPending, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTestResultRepository_DeleteCascades(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTestResultRepository(db.Pool, newTestLogger())
	ctx := context.Background()

	record := newProcessingRecord("user-1")
	require.NoError(t, repo.Create(ctx, record))

	planID := uuid.New().String()
	_, err := db.Pool.Exec(ctx, `INSERT INTO health_summaries (id, test_result_id, summary) VALUES ($1, $2, '{}')`, uuid.New().String(), record.ID)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `INSERT INTO action_plans (id, test_result_id, plan) VALUES ($1, $2, '{}')`, planID, record.ID)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `INSERT INTO daily_objectives (id, action_plan_id, objective) VALUES ($1, $2, 'walk')`, uuid.New().String(), planID)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, record.ID))

	for _, table := range []string{"health_summaries", "action_plans", "daily_objectives"} {
		var count int
		require.NoError(t, db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Zero(t, count, table)
	}

	_, err = repo.Get(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
