package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists checkpoints in MySQL/MariaDB.
//
// Designed for production deployments where runs must survive process
// restarts and several workers share a backend. Uses connection pooling;
// blobs are stored in a MEDIUMBLOB column (up to 16 MiB per checkpoint).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a pooled connection to the given DSN and migrates the
// schema.
//
// DSN format (go-sql-driver/mysql):
//
//	user:password@tcp(localhost:3306)/workflows?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	st, err := store.NewMySQLStore(os.Getenv("MYSQL_DSN"))
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			superstep INT NOT NULL,
			blob MEDIUMBLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_run_superstep (run_id, superstep),
			KEY idx_run (run_id)
		) ENGINE=InnoDB
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveCheckpoint upserts the blob for (runID, superstep).
func (s *MySQLStore) SaveCheckpoint(ctx context.Context, runID string, superstep int, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (run_id, superstep, blob)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE blob = VALUES(blob), created_at = CURRENT_TIMESTAMP
	`, runID, superstep, blob)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the blob for (runID, superstep).
func (s *MySQLStore) LoadCheckpoint(ctx context.Context, runID string, superstep int) ([]byte, error) {
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
func (s *MySQLStore) LoadLatest(ctx context.Context, runID string) ([]byte, int, error) {
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
func (s *MySQLStore) ListCheckpoints(ctx context.Context, runID string) ([]int, error) {
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
func (s *MySQLStore) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_checkpoints WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
