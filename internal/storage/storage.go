// Package storage defines the engine-neutral contract the metadata layer
// runs on.
//
// The concrete implementations live in the sqlite, mysql, and dolt
// sub-packages. This package holds the interface and error types that are
// referenced by both the engine implementations and their consumers
// (internal/metadata, cmd/metaline, etc.).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested type or node does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on uniqueness collisions and on type
// evolution requests the put options do not allow.
var ErrAlreadyExists = errors.New("already exists")

// ErrInvalidArgument is returned for malformed requests: missing required
// fields, references to ids that do not resolve, out-of-range migration
// targets.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrVersionMismatch is returned when the stored schema version differs
// from the library's and no migration directive authorizes bridging the
// gap.
var ErrVersionMismatch = errors.New("schema version mismatch")

// ErrDowngradeCompleted signals that a requested schema downgrade
// finished. It is a success dressed as an error: the connection is closed
// and no store handle is returned, so the caller exits instead of using a
// schema older than the library understands.
var ErrDowngradeCompleted = errors.New("downgrade completed")

// ErrDataLoss is returned when an unversioned legacy database is found
// where a versioned one is required.
var ErrDataLoss = errors.New("unversioned legacy schema")

// ErrCanceled is returned when the caller's context fired before or
// during an operation.
var ErrCanceled = errors.New("operation canceled")

// ErrInternal is returned for driver or serialization failures that do
// not map to a more specific condition.
var ErrInternal = errors.New("internal storage error")

// ExecResult reports the outcome of a write statement.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Source is a handle to one database. Implementations are safe for
// concurrent use; each transaction runs on its own connection.
type Source interface {
	// Begin opens a transaction. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)

	// Engine names the backing engine ("sqlite", "mysql", "dolt"). The
	// query catalog is selected by this name.
	Engine() string

	// URI describes the database for logs and error messages.
	URI() string

	// Close releases the underlying pool. The source is unusable after
	// Close returns.
	Close() error
}

// Tx is a single database transaction. Statements on a Tx see each
// other's writes; nothing is visible to other connections until Commit.
// Driver errors are classified before they surface: unique-constraint
// violations come back wrapping ErrAlreadyExists, everything else wraps
// ErrInternal.
type Tx interface {
	Execute(ctx context.Context, query string, args ...any) (ExecResult, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Commit() error
	Rollback() error
}

// RunInTx runs fn inside a transaction on src. The transaction is
// committed when fn returns nil and rolled back when fn returns an error
// or panics; panics are re-raised after the rollback.
func RunInTx(ctx context.Context, src Source, fn func(tx Tx) error) error {
	tx, err := src.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
