// Package db persists run history and per-page metrics in PostgreSQL.
// The store is optional; a nil *DB disables persistence without affecting
// the pipeline.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/report"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxIdleConns int
	MaxOpenConns int
	MaxLifetime  time.Duration
	DatabaseURL  string // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		if config.Host == "" {
			return nil, fmt.Errorf("database host is required")
		}
		if config.User == "" {
			return nil, fmt.Errorf("database user is required")
		}
		if config.Database == "" {
			return nil, fmt.Errorf("database name is required")
		}
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config}, nil
}

// InitFromEnv creates a PostgreSQL connection from DATABASE_URL. An empty
// DATABASE_URL means persistence is disabled and a nil DB is returned.
func InitFromEnv() (*DB, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		log.Info().Msg("DATABASE_URL not set, run history persistence disabled")
		return nil, nil
	}
	return New(&Config{DatabaseURL: url})
}

// Client exposes the underlying sql.DB for health checks.
func (d *DB) Client() *sql.DB {
	if d == nil {
		return nil
	}
	return d.client
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	return d.client.Close()
}

func setupSchema(client *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			site TEXT NOT NULL,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			pages INTEGER NOT NULL DEFAULT 0,
			flagged INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS page_metrics (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			page TEXT NOT NULL,
			clicks DOUBLE PRECISION NOT NULL,
			impressions DOUBLE PRECISION NOT NULL,
			ctr DOUBLE PRECISION NOT NULL,
			position DOUBLE PRECISION NOT NULL,
			http_status INTEGER,
			verdict TEXT,
			lcp DOUBLE PRECISION,
			inp DOUBLE PRECISION,
			cls DOUBLE PRECISION,
			errors TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, page)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
	}

	for _, stmt := range schema {
		if _, err := client.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RecordRunStart inserts a run in running state.
func (d *DB) RecordRunStart(ctx context.Context, runID, site, jobType string, startedAt time.Time) error {
	if d == nil {
		return nil
	}
	_, err := d.client.ExecContext(ctx,
		`INSERT INTO runs (id, site, job_type, status, started_at) VALUES ($1, $2, $3, 'running', $4)`,
		runID, site, jobType, startedAt)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordRunComplete marks a run completed with its final counts.
func (d *DB) RecordRunComplete(ctx context.Context, runID string, pages, flagged int) error {
	if d == nil {
		return nil
	}
	_, err := d.client.ExecContext(ctx,
		`UPDATE runs SET status = 'completed', pages = $2, flagged = $3, completed_at = $4 WHERE id = $1`,
		runID, pages, flagged, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}
	return nil
}

// RecordRunFailed marks a run failed with its error message.
func (d *DB) RecordRunFailed(ctx context.Context, runID, errorMessage string) error {
	if d == nil {
		return nil
	}
	_, err := d.client.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', error_message = $2, completed_at = $3 WHERE id = $1`,
		runID, errorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}
	return nil
}

// StorePageMetrics persists the reconciled rows of one run.
func (d *DB) StorePageMetrics(ctx context.Context, runID string, rows []report.Row) error {
	if d == nil || len(rows) == 0 {
		return nil
	}

	tx, err := d.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_metrics (run_id, page, clicks, impressions, ctr, position, http_status, verdict, lcp, inp, cls, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (run_id, page) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare page metrics insert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		row := &rows[i]
		_, err := stmt.ExecContext(ctx,
			runID, row.Page, row.Clicks, row.Impressions, row.CTR, row.Position,
			row.HTTPStatus, row.Verdict, row.LCP, row.INP, row.CLS,
			strings.Join(row.Errors, " | "))
		if err != nil {
			return fmt.Errorf("failed to insert page metrics for %s: %w", row.Page, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit page metrics: %w", err)
	}

	log.Debug().
		Str("run_id", runID).
		Int("rows", len(rows)).
		Msg("Stored page metrics")

	return nil
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID           string
	Site         string
	JobType      string
	Status       string
	ErrorMessage sql.NullString
	Pages        int
	Flagged      int
	StartedAt    time.Time
	CompletedAt  sql.NullTime
}

// RecentRuns returns run history newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if d == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.client.QueryContext(ctx,
		`SELECT id, site, job_type, status, error_message, pages, flagged, started_at, completed_at
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Site, &r.JobType, &r.Status, &r.ErrorMessage,
			&r.Pages, &r.Flagged, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
