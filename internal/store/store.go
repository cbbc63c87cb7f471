package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"pixelpress/internal/logging"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Job statuses recorded in history.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Job is one processed item's history record.
type Job struct {
	ID           string
	SourceName   string
	SourceSHA256 string
	ParamsHash   string
	Status       string
	OutputFormat string
	SourceSize   int64
	OutputSize   int64
	Duration     time.Duration
	Error        string
}

// Summary aggregates job history.
type Summary struct {
	Total      int64
	Succeeded  int64
	Failed     int64
	Skipped    int64
	BytesSaved int64
}

// Store keeps a history of optimize jobs in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (creating if needed) the job history database at dbPath. The
// parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Job history path: %s", dbPath)

	// WAL mode and busy_timeout keep concurrent recorders from tripping
	// over "database is locked" errors.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open job history: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close job history after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to job history: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close job history after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize job history schema: %w", err)
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		source_sha256 TEXT NOT NULL,
		params_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		output_format TEXT,
		source_size INTEGER NOT NULL DEFAULT 0,
		output_size INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_source_params ON jobs(source_sha256, params_hash);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(initCtx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Record inserts one job outcome.
func (s *Store) Record(ctx context.Context, job Job) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO jobs (id, source_name, source_sha256, params_hash, status,
			output_format, source_size, output_size, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourceName, job.SourceSHA256, job.ParamsHash, job.Status,
		job.OutputFormat, job.SourceSize, job.OutputSize,
		job.Duration.Milliseconds(), job.Error,
	)
	if err != nil {
		return fmt.Errorf("recording job %s: %w", job.ID, err)
	}
	return nil
}

// ShouldSkip reports whether an identical source was already optimized
// successfully with the same parameters.
func (s *Store) ShouldSkip(ctx context.Context, sourceSHA256, paramsHash string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(opCtx, `
		SELECT COUNT(*) FROM jobs
		WHERE source_sha256 = ? AND params_hash = ? AND status = ?`,
		sourceSHA256, paramsHash, StatusSucceeded,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking job history: %w", err)
	}
	return n > 0, nil
}

// Summarize aggregates all recorded jobs.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var sum Summary
	err := s.db.QueryRowContext(opCtx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND output_size > 0
				THEN source_size - output_size ELSE 0 END), 0)
		FROM jobs`,
		StatusSucceeded, StatusFailed, StatusSkipped, StatusSucceeded,
	).Scan(&sum.Total, &sum.Succeeded, &sum.Failed, &sum.Skipped, &sum.BytesSaved)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing job history: %w", err)
	}
	return sum, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing job history: %w", err)
	}
	return nil
}
