//go:build cgo

// Package dolt implements the storage source on an embedded Dolt
// database via github.com/dolthub/driver. Dolt speaks the MySQL dialect,
// so the metadata layer drives it with the mysql query catalog; what it
// adds is a versioned database directory that can be branched, diffed,
// and pushed with the dolt CLI.
package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"

	"github.com/metaline/metaline/internal/storage"
)

// Config describes an embedded Dolt database.
type Config struct {
	// Path is the directory holding the Dolt database. Created when
	// missing.
	Path string

	// Database is the SQL database name inside the directory. Defaults to
	// "metaline".
	Database string

	// CommitterName and CommitterEmail identify Dolt commits. They fall
	// back to GIT_AUTHOR_NAME / GIT_AUTHOR_EMAIL, then to fixed defaults.
	CommitterName  string
	CommitterEmail string
}

// Source is a handle to one embedded Dolt database.
type Source struct {
	db     *sql.DB
	path   string
	closed atomic.Bool

	// connector must be closed to release the filesystem locks held by
	// the embedded engine.
	connector *embedded.Connector
}

var _ storage.Source = (*Source)(nil)

const openMaxElapsed = 30 * time.Second

func newOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	return bo
}

// New opens (or creates) the embedded Dolt database under cfg.Path.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Database == "" {
		cfg.Database = "metaline"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = os.Getenv("GIT_AUTHOR_NAME")
		if cfg.CommitterName == "" {
			cfg.CommitterName = "metaline"
		}
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = os.Getenv("GIT_AUTHOR_EMAIL")
		if cfg.CommitterEmail == "" {
			cfg.CommitterEmail = "metaline@local"
		}
	}

	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The embedded driver stacks relative paths onto its own working
	// directory; always hand it an absolute one.
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := initDSN + "&database=" + cfg.Database

	// Ensure the database exists as its own unit of work with its own
	// connector, then open a fresh connector for the returned source.
	if err := withEmbedded(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
		_, execErr := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return execErr
	}); err != nil {
		return nil, fmt.Errorf("failed to create dolt database: %w", err)
	}

	db, connector, err := openEmbedded(dbDSN)
	if err != nil {
		return nil, err
	}

	// Do not ping with the caller's context: the embedded driver derives
	// a session context from the first Connect and reuses it across
	// statements, so a short-lived caller context would poison the pool.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping dolt database: %w", err)
	}

	return &Source{db: db, path: absPath, connector: connector}, nil
}

// withEmbedded runs fn against a short-lived embedded connection and
// closes it, releasing the engine's filesystem locks before the next
// open.
func withEmbedded(ctx context.Context, dsn string, fn func(context.Context, *sql.DB) error) error {
	db, connector, err := openEmbedded(dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
		_ = connector.Close()
	}()
	return fn(ctx, db)
}

// openEmbedded opens a connection using the embedded Dolt driver.
func openEmbedded(dsn string) (*sql.DB, *embedded.Connector, error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse dolt DSN: %w", err)
	}
	cfg.BackOff = newOpenBackoff()

	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Embedded Dolt is single-writer like SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, connector, nil
}

// Engine implements storage.Source.
func (s *Source) Engine() string { return "dolt" }

// URI implements storage.Source.
func (s *Source) URI() string { return s.path }

// Close implements storage.Source.
func (s *Source) Close() error {
	s.closed.Store(true)
	err := s.db.Close()
	if cerr := s.connector.Close(); err == nil {
		err = cerr
	}
	return err
}

// Begin implements storage.Source. The single-connection pool serializes
// transactions, so write conflicts cannot arise between them.
func (s *Source) Begin(ctx context.Context) (storage.Tx, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: source is closed", storage.ErrInternal)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &doltTx{tx: tx}, nil
}

type doltTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*doltTx)(nil)

func (t *doltTx) Execute(ctx context.Context, query string, args ...any) (storage.ExecResult, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.ExecResult{}, classify(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storage.ExecResult{}, classify(err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return storage.ExecResult{}, classify(err)
	}
	return storage.ExecResult{RowsAffected: rows, LastInsertID: lastID}, nil
}

func (t *doltTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (t *doltTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (t *doltTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify(fmt.Errorf("failed to roll back: %w", err))
	}
	return nil
}

// classify maps driver errors onto the shared storage sentinels. The
// embedded engine reports key collisions with "duplicate ..." messages
// rather than numbered MySQL errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storage.ErrCanceled, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
		return fmt.Errorf("%w: %v", storage.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrInternal, err)
}
