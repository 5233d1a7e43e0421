package review

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

var correctionColumns = []string{
	"id", "test_result_id", "biomarker",
	"computed_status", "corrected_status", "agreed",
	"notes", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		store.Close()
	})
	return store, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO corrections")).
		WithArgs("tr-1", "TSH", "in-range", "out-of-range", false, "TSH repeated twice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	c := &Correction{
		TestResultID:    "tr-1",
		Biomarker:       "TSH",
		ComputedStatus:  biomarker.StatusInRange,
		CorrectedStatus: biomarker.StatusOutOfRange,
		Notes:           "TSH repeated twice",
	}
	require.NoError(t, store.Save(context.Background(), c))

	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, created, c.CreatedAt)
	assert.False(t, c.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO corrections")).
		WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), &Correction{TestResultID: "tr-1", Biomarker: "TSH"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save correction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE test_result_id = $1 AND biomarker = $2")).
		WithArgs("tr-1", "Ferritin").
		WillReturnRows(sqlmock.NewRows(correctionColumns).
			AddRow(int64(3), "tr-1", "Ferritin", "borderline", "borderline", true, "", now, now))

	c, err := store.Get(context.Background(), "tr-1", "Ferritin")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, biomarker.StatusBorderline, c.CorrectedStatus)
	assert.True(t, c.Agreed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM corrections")).
		WithArgs("tr-1", "Zink").
		WillReturnRows(sqlmock.NewRows(correctionColumns))

	c, err := store.Get(context.Background(), "tr-1", "Zink")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByTestResult(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE test_result_id = $1")).
		WithArgs("tr-1").
		WillReturnRows(sqlmock.NewRows(correctionColumns).
			AddRow(int64(1), "tr-1", "TSH", "in-range", "in-range", true, "", now, now).
			AddRow(int64(2), "tr-1", "LDL", "borderline", "out-of-range", false, "familial", now, now))

	list, err := store.ListByTestResult(context.Background(), "tr-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "LDL", list[1].Biomarker)
	assert.Equal(t, 0.5, Agreement(list))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAndDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM corrections")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM corrections WHERE test_result_id = $1")).
		WithArgs("tr-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	require.NoError(t, store.DeleteByTestResult(context.Background(), "tr-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportJSONSkipsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	input := `{"version":"1.0","count":2,"corrections":[
		{"test_result_id":"tr-1","biomarker":"TSH","computed_status":"in-range","corrected_status":"in-range","agreed":true},
		{"test_result_id":"tr-1","biomarker":"LDL","computed_status":"borderline","corrected_status":"out-of-range","agreed":false}
	]}`

	mock.ExpectQuery(regexp.QuoteMeta("FROM corrections")).
		WithArgs("tr-1", "TSH").
		WillReturnRows(sqlmock.NewRows(correctionColumns).
			AddRow(int64(1), "tr-1", "TSH", "in-range", "in-range", true, "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM corrections")).
		WithArgs("tr-1", "LDL").
		WillReturnRows(sqlmock.NewRows(correctionColumns))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO corrections")).
		WithArgs("tr-1", "LDL", "borderline", "out-of-range", false, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), now))

	imported, skipped, err := store.ImportJSON(context.Background(), bytes.NewBufferString(input))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}
