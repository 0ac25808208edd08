package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/report"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	client, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return &DB{client: client}, mock
}

func TestConnectionString(t *testing.T) {
	config := &Config{
		Host: "localhost", Port: "5432", User: "seolens",
		Password: "secret", Database: "seolens", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=seolens password=secret dbname=seolens sslmode=disable",
		config.ConnectionString())

	config.DatabaseURL = "postgres://u:p@host/db"
	assert.Equal(t, "postgres://u:p@host/db", config.ConnectionString())
}

func TestRecordRunLifecycle(t *testing.T) {
	d, mock := newMockDB(t)
	started := time.Now().UTC()

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "example.com", "fetch", started).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE runs SET status = 'completed'").
		WithArgs("run-1", 10, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.RecordRunStart(context.Background(), "run-1", "example.com", "fetch", started))
	require.NoError(t, d.RecordRunComplete(context.Background(), "run-1", 10, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunFailed(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec("UPDATE runs SET status = 'failed'").
		WithArgs("run-2", "sitemap unreachable", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.RecordRunFailed(context.Background(), "run-2", "sitemap unreachable"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePageMetrics(t *testing.T) {
	d, mock := newMockDB(t)

	status := 200
	verdict := "PASS"
	lcp := 2100.0

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO page_metrics")
	prep.ExpectExec().
		WithArgs("run-1", "https://example.com/", 5.0, 100.0, 0.05, 3.2,
			&status, &verdict, &lcp, nil, nil, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("run-1", "https://example.com/broken", 0.0, 2000.0, 0.0, 9.0,
			nil, nil, nil, nil, nil, "High impressions but no clicks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []report.Row{
		{Page: "https://example.com/", Clicks: 5, Impressions: 100, CTR: 0.05, Position: 3.2,
			HTTPStatus: &status, Verdict: &verdict, LCP: &lcp},
		{Page: "https://example.com/broken", Impressions: 2000, Position: 9,
			Errors: []string{"High impressions but no clicks"}},
	}

	require.NoError(t, d.StorePageMetrics(context.Background(), "run-1", rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePageMetricsEmpty(t *testing.T) {
	d, mock := newMockDB(t)

	require.NoError(t, d.StorePageMetrics(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDBIsNoOp(t *testing.T) {
	var d *DB

	assert.NoError(t, d.RecordRunStart(context.Background(), "run-1", "example.com", "fetch", time.Now()))
	assert.NoError(t, d.RecordRunComplete(context.Background(), "run-1", 1, 0))
	assert.NoError(t, d.RecordRunFailed(context.Background(), "run-1", "boom"))
	assert.NoError(t, d.StorePageMetrics(context.Background(), "run-1", []report.Row{{Page: "/"}}))
	assert.NoError(t, d.Close())

	runs, err := d.RecentRuns(context.Background(), 5)
	assert.NoError(t, err)
	assert.Nil(t, runs)
}

func TestRecentRuns(t *testing.T) {
	d, mock := newMockDB(t)

	started := time.Now().UTC()
	mock.ExpectQuery("SELECT id, site, job_type").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "site", "job_type", "status", "error_message",
			"pages", "flagged", "started_at", "completed_at",
		}).AddRow("run-1", "example.com", "fetch", "completed", nil, 10, 2, started, started))

	runs, err := d.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	assert.False(t, runs[0].ErrorMessage.Valid)
}
