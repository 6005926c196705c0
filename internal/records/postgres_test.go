package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/scrub-gateway/internal/domain"
)

func setupPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	s, err := NewPostgresStore(db, "scrub_files", "allowed_client_ids", Options{Timeout: time.Second})
	require.NoError(t, err)
	s.newID = func() string { return "rec-1" }
	return s, mock
}

func TestNewPostgresStoreRejectsBadTableNames(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPostgresStore(db, "files; DROP TABLE x", "ok", Options{})
	assert.ErrorContains(t, err, "invalid table name")
}

func TestPostgresCreate(t *testing.T) {
	s, mock := setupPostgresStore(t)
	rec := sampleRecord()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "scrub_files" (id, doc, created_at) VALUES ($1, $2, $3)`)).
		WithArgs("rec-1", sqlmock.AnyArg(), rec.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := s.Create(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
	assert.Equal(t, "rec-1", rec.ID)
}

func TestPostgresGet(t *testing.T) {
	s, mock := setupPostgresStore(t)
	rec := sampleRecord()
	rec.ID = "rec-1"
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "scrub_files" WHERE id = $1`)).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "scrub_files" WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, found, err := s.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "leads.csv", got.FileName)
	assert.Equal(t, domain.StageUploaded, got.Status.Stage)

	_, found, err = s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresUpdateDeleteReportRowsAffected(t *testing.T) {
	s, mock := setupPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scrub_files" SET doc = $2 WHERE id = $1`)).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "scrub_files" WHERE id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := s.Update(context.Background(), "rec-1", sampleRecord())
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Delete(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresSetNotification(t *testing.T) {
	s, mock := setupPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scrub_files" SET doc = jsonb_set(doc, '{notification}', $2::jsonb) WHERE id = $1`)).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := s.SetNotification(context.Background(), "rec-1", domain.Notification{MessageID: "m-1"})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPostgresListAndAudiences(t *testing.T) {
	s, mock := setupPostgresStore(t)
	a, b := sampleRecord(), sampleRecord()
	a.ID, b.ID = "a", "b"
	docA, _ := json.Marshal(a)
	docB, _ := json.Marshal(b)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "scrub_files" ORDER BY created_at`)).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(docA).AddRow([]byte("{not json")).AddRow(docB))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT client_id FROM "allowed_client_ids"`)).
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow("web").AddRow(nil).AddRow("cli"))

	recs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	ids, err := s.AllowedAudiences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "cli"}, ids)
}

func TestPostgresErrorsAreWrapped(t *testing.T) {
	s, mock := setupPostgresStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO").WillReturnError(boom)

	_, err := s.Create(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, boom)
}

func TestPostgresEnsureSchema(t *testing.T) {
	s, mock := setupPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "scrub_files"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "allowed_client_ids"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
}
