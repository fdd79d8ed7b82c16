// Package store provides persistence backends for workflow checkpoints.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store persists checkpoint blobs keyed by run id and superstep index.
//
// The engine defines the blob's logical contents; a Store treats it as
// opaque bytes. Implementations in this package:
//   - MemStore: in-memory maps, for tests and short-lived runs
//   - SQLiteStore: single-file database, zero-setup local persistence
//   - MySQLStore: shared relational backend
//   - RedisStore: keyed store for low-latency deployments
//
// Saving the same (runID, superstep) twice overwrites: the engine only ever
// rewrites a checkpoint when a resumed run re-executes a superstep, and the
// latest capture is the one that must win.
type Store interface {
	// SaveCheckpoint persists blob as the checkpoint closing the given
	// superstep of runID.
	SaveCheckpoint(ctx context.Context, runID string, superstep int, blob []byte) error

	// LoadCheckpoint retrieves the checkpoint for (runID, superstep).
	// Returns ErrNotFound if none exists.
	LoadCheckpoint(ctx context.Context, runID string, superstep int) ([]byte, error)

	// LoadLatest retrieves the highest-superstep checkpoint for runID.
	// Returns ErrNotFound if the run has no checkpoints.
	LoadLatest(ctx context.Context, runID string) (blob []byte, superstep int, err error)

	// ListCheckpoints returns the superstep indices with stored checkpoints
	// for runID, ascending. An unknown run yields an empty list, not an
	// error.
	ListCheckpoints(ctx context.Context, runID string) ([]int, error)

	// DeleteRun removes every checkpoint belonging to runID.
	DeleteRun(ctx context.Context, runID string) error
}
