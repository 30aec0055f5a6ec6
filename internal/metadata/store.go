// Package metadata implements the transactional core of the store: the
// type registry, the instance tables, the event log, the context edges,
// and the physical schema lifecycle. Every public operation runs in
// exactly one storage transaction and either commits as a whole or
// leaves the database untouched.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/query"
	"github.com/metaline/metaline/internal/types"
)

// Store is a handle to one metadata database. It owns a storage source
// and the query catalog for that source's engine; all reads and writes
// go through catalog statements.
type Store struct {
	src storage.Source
	c   *query.Catalog

	artifacts  nodeDef
	executions nodeDef
	contexts   nodeDef
}

// New binds a store to an opened source without touching the schema.
// Most callers want Open, which reconciles the schema version first; New
// exists for operational commands that manage the schema explicitly.
func New(src storage.Source) (*Store, error) {
	c, ok := query.ForEngine(src.Engine())
	if !ok {
		return nil, fmt.Errorf("%w: no query catalog for engine %q", storage.ErrInvalidArgument, src.Engine())
	}
	return &Store{
		src:        src,
		c:          c,
		artifacts:  artifactDef(c),
		executions: executionDef(c),
		contexts:   contextDef(c),
	}, nil
}

// Open binds a store and reconciles the database schema with the library
// version before returning. When opts carries a downgrade directive the
// migration is applied, the source is closed, and ErrDowngradeCompleted
// comes back with no store; a downgrade is a one-shot operational
// command, not a usable connection.
func Open(ctx context.Context, src storage.Source, opts types.MigrationOptions) (*Store, error) {
	s, err := New(src)
	if err != nil {
		return nil, err
	}
	if err := s.reconcileSchema(ctx, opts); err != nil {
		if errors.Is(err, storage.ErrDowngradeCompleted) {
			_ = src.Close()
		}
		return nil, err
	}
	return s, nil
}

// Close releases the underlying storage source.
func (s *Store) Close() error {
	return s.src.Close()
}

// Engine names the storage engine backing the store.
func (s *Store) Engine() string { return s.src.Engine() }

// URI describes the backing database, credentials redacted.
func (s *Store) URI() string { return s.src.URI() }

// checkCtx rejects work when the caller's context is already done, so a
// canceled request never opens a transaction.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCanceled, err)
	}
	return nil
}

// CountTypes reports the number of registered types across all kinds.
func (s *Store) CountTypes(ctx context.Context) (int64, error) {
	return s.countOne(ctx, s.c.CountTypes)
}

// CountArtifacts reports the number of stored artifacts.
func (s *Store) CountArtifacts(ctx context.Context) (int64, error) {
	return s.countOne(ctx, s.c.CountArtifacts)
}

// CountExecutions reports the number of stored executions.
func (s *Store) CountExecutions(ctx context.Context) (int64, error) {
	return s.countOne(ctx, s.c.CountExecutions)
}

// CountContexts reports the number of stored contexts.
func (s *Store) CountContexts(ctx context.Context) (int64, error) {
	return s.countOne(ctx, s.c.CountContexts)
}

// CountEvents reports the number of recorded events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	return s.countOne(ctx, s.c.CountEvents)
}

func (s *Store) countOne(ctx context.Context, stmt string) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to count rows: %w", err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: count query returned no rows", storage.ErrInternal)
		}
		if err := rows.Scan(&n); err != nil {
			return fmt.Errorf("failed to scan count: %w", err)
		}
		return rows.Err()
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
