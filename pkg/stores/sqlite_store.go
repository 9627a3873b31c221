package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/quarrybuild/quarry/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists parse runs in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store instance. Init must be called before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

// Migrate runs the embedded database migrations.
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

// SaveRun records a parse session and the graph it produced in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run, graph *engine.Graph) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, root, status, packages, targets, rounds, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Root, run.Status, run.Packages, run.Targets, run.Rounds,
		run.Duration.Milliseconds(), run.Error, createdAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for _, name := range graph.PackageNames() {
		row, err := newPackageRow(run.ID, graph.Package(name))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO packages (run_id, name, filename, subincludes)
			VALUES (?, ?, ?, ?)
		`, row.RunID, row.Name, row.Filename, row.Subincludes)
		if err != nil {
			return fmt.Errorf("failed to create package //%s: %w", name, err)
		}
	}

	for _, t := range graph.Targets() {
		row, err := newTargetRow(run.ID, t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO targets (run_id, package, name, kind, binary, test, test_only, command, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.RunID, row.Package, row.Name, row.Kind, row.Binary, row.Test, row.TestOnly, row.Command, row.Data)
		if err != nil {
			return fmt.Errorf("failed to create target %s: %w", t.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, root, status, packages, targets, rounds, duration_ms, error, created_at
		FROM runs
		WHERE id = ?
	`
	run := &Run{}
	var durationMS int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Root, &run.Status, &run.Packages, &run.Targets,
		&run.Rounds, &durationMS, &run.Error, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// ListRuns lists runs, newest first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, root, status, packages, targets, rounds, duration_ms, error, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		var durationMS int64
		err := rows.Scan(
			&run.ID, &run.Root, &run.Status, &run.Packages, &run.Targets,
			&run.Rounds, &durationMS, &run.Error, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and, via cascade, its packages and targets.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
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

// ListPackages lists the packages recorded for a run.
func (s *SQLiteStore) ListPackages(ctx context.Context, runID string) ([]*PackageRow, error) {
	query := `
		SELECT run_id, name, filename, subincludes
		FROM packages
		WHERE run_id = ?
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	packages := []*PackageRow{}
	for rows.Next() {
		row := &PackageRow{}
		if err := rows.Scan(&row.RunID, &row.Name, &row.Filename, &row.Subincludes); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}
	return packages, nil
}

// GetTarget retrieves one recorded target by label.
func (s *SQLiteStore) GetTarget(ctx context.Context, runID string, label engine.Label) (*TargetRow, error) {
	query := `
		SELECT run_id, package, name, kind, binary, test, test_only, command, data
		FROM targets
		WHERE run_id = ? AND package = ? AND name = ?
	`
	row := &TargetRow{}
	err := s.db.QueryRowContext(ctx, query, runID, label.Package, label.Name).Scan(
		&row.RunID, &row.Package, &row.Name, &row.Kind,
		&row.Binary, &row.Test, &row.TestOnly, &row.Command, &row.Data,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("target not found: %s", label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return row, nil
}

// ListTargets lists recorded targets for a run, optionally filtered by kind
// or package.
func (s *SQLiteStore) ListTargets(ctx context.Context, runID string, kind, pkg *string) ([]*TargetRow, error) {
	query := `
		SELECT run_id, package, name, kind, binary, test, test_only, command, data
		FROM targets
		WHERE run_id = ?
		  AND (? IS NULL OR kind = ?)
		  AND (? IS NULL OR package = ?)
		ORDER BY package ASC, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID, kind, kind, pkg, pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := []*TargetRow{}
	for rows.Next() {
		row := &TargetRow{}
		err := rows.Scan(
			&row.RunID, &row.Package, &row.Name, &row.Kind,
			&row.Binary, &row.Test, &row.TestOnly, &row.Command, &row.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}
	return targets, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
