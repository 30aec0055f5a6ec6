package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/query"
	"github.com/metaline/metaline/internal/types"
)

// schemaState classifies what a probe found on disk.
type schemaState int

const (
	schemaEmpty     schemaState = iota // no tables at all
	schemaLegacy                       // core tables but no MLMDEnv; predates versioning
	schemaVersioned                    // MLMDEnv present with one version row
)

// probeSchema inspects the database without modifying it. Each probe
// runs in its own transaction: a failed lookup on a missing table must
// not poison the transaction the caller goes on to use.
func (s *Store) probeSchema(ctx context.Context) (schemaState, int64, error) {
	var (
		stored int64
		found  int
	)
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, s.c.SelectSchemaVersion)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if found == 0 {
				if err := rows.Scan(&stored); err != nil {
					return fmt.Errorf("failed to scan schema version: %w", err)
				}
			}
			found++
		}
		if err := rows.Err(); err != nil {
			return err
		}
		switch {
		case found == 0:
			return fmt.Errorf("%w: MLMDEnv exists but holds no schema version", storage.ErrDataLoss)
		case found > 1:
			return fmt.Errorf("%w: MLMDEnv holds %d schema versions, want exactly one", storage.ErrDataLoss, found)
		}
		return nil
	})
	if err == nil {
		return schemaVersioned, stored, nil
	}
	if errors.Is(err, storage.ErrDataLoss) || errors.Is(err, storage.ErrCanceled) {
		return 0, 0, err
	}

	// No MLMDEnv. A readable Type table means a database from before
	// schema versioning existed; otherwise the database is empty.
	err = storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, s.c.CheckTypeTable)
		if err != nil {
			return err
		}
		defer rows.Close()
		return rows.Err()
	})
	if err == nil {
		return schemaLegacy, 0, nil
	}
	if errors.Is(err, storage.ErrCanceled) {
		return 0, 0, err
	}
	return schemaEmpty, 0, nil
}

// reconcileSchema brings the database in line with the library version,
// creating, upgrading, or downgrading as directed. Called once per Open
// before any operation is accepted.
func (s *Store) reconcileSchema(ctx context.Context, opts types.MigrationOptions) error {
	if opts.DowngradeToVersion != nil {
		return s.downgradeSchema(ctx, *opts.DowngradeToVersion)
	}
	state, stored, err := s.probeSchema(ctx)
	if err != nil {
		return err
	}
	switch state {
	case schemaEmpty:
		return s.createSchema(ctx)
	case schemaLegacy:
		stored = 0
	}
	switch {
	case stored == query.SchemaVersion:
		return nil
	case stored < query.SchemaVersion:
		if opts.DisableUpgrade {
			return fmt.Errorf("%w: database schema is at version %d, library wants %d and upgrades are disabled",
				storage.ErrVersionMismatch, stored, query.SchemaVersion)
		}
		return s.upgradeSchema(ctx, stored)
	default:
		return fmt.Errorf("%w: database schema version %d is newer than library version %d",
			storage.ErrVersionMismatch, stored, query.SchemaVersion)
	}
}

// createSchema creates every table and stamps the library version, all
// in one transaction. Fails if any table already exists.
func (s *Store) createSchema(ctx context.Context) error {
	return storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		for _, stmt := range s.c.CreateAllTables {
			if _, err := tx.Execute(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		return s.stampVersion(ctx, tx, query.SchemaVersion)
	})
}

// stampVersion records v in MLMDEnv, which holds at most one row.
func (s *Store) stampVersion(ctx context.Context, tx storage.Tx, v int64) error {
	res, err := tx.Execute(ctx, s.c.UpdateSchemaVersion, v)
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := tx.Execute(ctx, s.c.InsertSchemaVersion, v); err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	return nil
}

// upgradeSchema walks the database from version from to the library
// version, one migration step per transaction, stamping each step so an
// interrupted upgrade resumes where it stopped.
func (s *Store) upgradeSchema(ctx context.Context, from int64) error {
	for v := from + 1; v <= query.SchemaVersion; v++ {
		m, ok := s.c.Migrations[v]
		if !ok {
			return fmt.Errorf("%w: no migration to schema version %d", storage.ErrInternal, v)
		}
		err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
			for _, stmt := range m.Upgrade {
				if _, err := tx.Execute(ctx, stmt); err != nil {
					return fmt.Errorf("failed to upgrade schema to version %d: %w", v, err)
				}
			}
			return s.stampVersion(ctx, tx, v)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// downgradeSchema walks the database down to target, one step per
// transaction. On success the store is unusable by this library build;
// ErrDowngradeCompleted tells the caller to reopen with an older one.
func (s *Store) downgradeSchema(ctx context.Context, target int64) error {
	if target < 0 || target > query.SchemaVersion {
		return fmt.Errorf("%w: downgrade target %d is outside 0..%d",
			storage.ErrInvalidArgument, target, query.SchemaVersion)
	}
	state, stored, err := s.probeSchema(ctx)
	if err != nil {
		return err
	}
	switch state {
	case schemaEmpty:
		return fmt.Errorf("%w: cannot downgrade an empty database", storage.ErrInvalidArgument)
	case schemaLegacy:
		stored = 0
	}
	if stored > query.SchemaVersion {
		return fmt.Errorf("%w: database schema version %d is newer than library version %d",
			storage.ErrVersionMismatch, stored, query.SchemaVersion)
	}
	if stored < target {
		return fmt.Errorf("%w: downgrade target %d is above the stored schema version %d",
			storage.ErrInvalidArgument, target, stored)
	}
	for v := stored; v > target; v-- {
		m, ok := s.c.Migrations[v]
		if !ok {
			return fmt.Errorf("%w: no migration from schema version %d", storage.ErrInternal, v)
		}
		err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
			for _, stmt := range m.Downgrade {
				if _, err := tx.Execute(ctx, stmt); err != nil {
					return fmt.Errorf("failed to downgrade schema to version %d: %w", v-1, err)
				}
			}
			if v-1 < 1 {
				// Version 1's downgrade drops MLMDEnv itself; there is
				// nowhere to stamp version 0.
				return nil
			}
			return s.stampVersion(ctx, tx, v-1)
		})
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: schema downgraded to version %d", storage.ErrDowngradeCompleted, target)
}

// Init creates the full schema unconditionally, failing when any table
// already exists. Existing databases want Open or InitIfNotExists.
func (s *Store) Init(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return s.createSchema(ctx)
}

// InitIfNotExists creates the schema when the database is empty and is
// a no-op when it is already at the library version. A legacy
// unversioned database is refused with ErrDataLoss: migrating it is an
// explicit operator decision, made by calling Open.
func (s *Store) InitIfNotExists(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	state, stored, err := s.probeSchema(ctx)
	if err != nil {
		return err
	}
	switch state {
	case schemaEmpty:
		return s.createSchema(ctx)
	case schemaLegacy:
		return fmt.Errorf("%w: database has a legacy unversioned schema", storage.ErrDataLoss)
	}
	if stored != query.SchemaVersion {
		return fmt.Errorf("%w: database schema is at version %d, library wants %d",
			storage.ErrVersionMismatch, stored, query.SchemaVersion)
	}
	return nil
}

// SchemaVersion reports the stored schema version. A legacy unversioned
// database reports 0; an empty database has no version at all.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	state, stored, err := s.probeSchema(ctx)
	if err != nil {
		return 0, err
	}
	switch state {
	case schemaEmpty:
		return 0, fmt.Errorf("%w: database has no schema", storage.ErrNotFound)
	case schemaLegacy:
		return 0, nil
	}
	return stored, nil
}

// Reset drops every table and recreates the schema at the library
// version. All stored metadata is destroyed.
func (s *Store) Reset(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		for _, stmt := range s.c.DropAllTables {
			if _, err := tx.Execute(ctx, stmt); err != nil {
				return fmt.Errorf("failed to drop tables: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.createSchema(ctx)
}
