package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openscaffold/openscaffold/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the execution log: runs and per-node outcomes, backed
// by a local SQLite database. It implements engine.Recorder and
// engine.PriorRuns.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, plugin_id, target_root, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.PluginID,
		run.TargetRoot,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun marks a run terminal.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, status, errMsg, &now, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, plugin_id, target_root, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.PluginID,
		&run.TargetRoot,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs for a target root, newest first. An empty target
// root lists runs for every target.
func (s *SQLiteStore) ListRuns(ctx context.Context, targetRoot string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, plugin_id, target_root, status, started_at, completed_at, error
		FROM runs
		WHERE (? = '' OR target_root = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, targetRoot, targetRoot, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.PluginID,
			&run.TargetRoot,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// RecordNode persists one node outcome. Implements engine.Recorder;
// the executor calls it from worker goroutines, which database/sql
// serializes safely.
func (s *SQLiteStore) RecordNode(ctx context.Context, runID string, result *engine.NodeResult) error {
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifact results: %w", err)
	}
	validations, err := json.Marshal(result.Validations)
	if err != nil {
		return fmt.Errorf("failed to encode validation results: %w", err)
	}

	var errMsg *string
	if result.Error != "" {
		errMsg = &result.Error
	}

	query := `
		INSERT INTO node_results (
			run_id, node_id, plugin_id, fingerprint, params,
			status, skip_reason, artifacts, validations, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		runID,
		result.NodeID,
		result.PluginID,
		result.Fingerprint,
		result.Params,
		string(result.Status),
		string(result.SkipReason),
		string(artifacts),
		string(validations),
		errMsg,
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record node result: %w", err)
	}

	return nil
}

// ListNodesByRun lists the node records of a run in execution order.
func (s *SQLiteStore) ListNodesByRun(ctx context.Context, runID string) ([]*NodeRecord, error) {
	query := `
		SELECT id, run_id, node_id, plugin_id, fingerprint, params,
		       status, skip_reason, artifacts, validations, error, duration_ms, created_at
		FROM node_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer rows.Close()

	records := []*NodeRecord{}
	for rows.Next() {
		record := &NodeRecord{}
		var durationMS int64
		err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.NodeID,
			&record.PluginID,
			&record.Fingerprint,
			&record.Params,
			&record.Status,
			&record.SkipReason,
			&record.Artifacts,
			&record.Validations,
			&record.Error,
			&durationMS,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node results: %w", err)
	}

	return records, nil
}

// WasApplied reports whether an equivalent node previously applied to
// the target root. Implements engine.PriorRuns.
func (s *SQLiteStore) WasApplied(ctx context.Context, pluginID, fingerprint, targetRoot string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM node_results n
		JOIN runs r ON r.id = n.run_id
		WHERE n.plugin_id = ? AND n.fingerprint = ? AND r.target_root = ?
		  AND n.status = ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, pluginID, fingerprint, targetRoot,
		string(engine.NodeStatusApplied)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query applied nodes: %w", err)
	}

	return count > 0, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
