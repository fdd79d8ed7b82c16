package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoints in a single-file SQLite database.
//
// Designed for development and single-process deployments that need
// persistence without operating a database server:
//   - Single file (e.g. "./dev.db"), or ":memory:" for tests
//   - Auto-migration on first use
//   - WAL mode so readers don't block the writer
//
// modernc.org/sqlite is a pure-Go driver, so the store builds without cgo.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// migrates the schema.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./dev.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			superstep INTEGER NOT NULL,
			blob BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, superstep)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON workflow_checkpoints(run_id, superstep)")
	return err
}

// SaveCheckpoint upserts the blob for (runID, superstep).
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, superstep int, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (run_id, superstep, blob)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, superstep) DO UPDATE SET
			blob = excluded.blob,
			created_at = CURRENT_TIMESTAMP
	`, runID, superstep, blob)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the blob for (runID, superstep).
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string, superstep int) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM workflow_checkpoints WHERE run_id = ? AND superstep = ?",
		runID, superstep).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return blob, nil
}

// LoadLatest retrieves the highest-superstep checkpoint for runID.
func (s *SQLiteStore) LoadLatest(ctx context.Context, runID string) ([]byte, int, error) {
	var blob []byte
	var superstep int
	err := s.db.QueryRowContext(ctx, `
		SELECT blob, superstep FROM workflow_checkpoints
		WHERE run_id = ?
		ORDER BY superstep DESC
		LIMIT 1
	`, runID).Scan(&blob, &superstep)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return blob, superstep, nil
}

// ListCheckpoints returns the stored superstep indices for runID, ascending.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT superstep FROM workflow_checkpoints WHERE run_id = ? ORDER BY superstep ASC",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []int
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// DeleteRun removes all checkpoints for runID.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_checkpoints WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
