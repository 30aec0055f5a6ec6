// Package sqlite implements the storage source on SQLite via the pure-Go
// ncruces driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/metaline/metaline/internal/storage"
)

// Source is a handle to one SQLite database.
type Source struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ storage.Source = (*Source)(nil)

// setupWASMCache configures WASM compilation caching to reduce SQLite
// startup time. The compiled module lands in the user cache dir
// (~/.cache/metaline/wasm); wazero keys entries by its own version, so
// stale entries from old builds are harmless. Falls back to an in-memory
// cache when the directory cannot be used.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "metaline", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// memSeq distinguishes concurrently open in-memory databases. Shared
// cache mode names the database, and two sources must not collide on the
// same name.
var memSeq atomic.Int64

// New opens (or creates) the SQLite database at path. The path ":memory:"
// yields a private in-memory database that lives until Close. New does
// not touch the schema; the metadata layer reconciles it after opening.
func New(ctx context.Context, path string) (*Source, error) {
	var connStr string
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))

	switch {
	case path == ":memory:":
		// Shared cache lets every connection in this source see the same
		// data; the sequence number keeps separate sources isolated. WAL
		// does not apply to in-memory databases.
		name := fmt.Sprintf("memdb%d", memSeq.Add(1))
		connStr = "file:" + name + "?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=busy_timeout") {
			connStr += "&_pragma=busy_timeout(30000)"
		}
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=busy_timeout(30000)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are per-connection by default; a single
		// pooled connection keeps one database alive for the source.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports one writer plus concurrent readers; cap the pool so
		// writer contention queues instead of piling up connections.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Source{db: db, path: path}, nil
}

// Engine implements storage.Source.
func (s *Source) Engine() string { return "sqlite" }

// URI implements storage.Source.
func (s *Source) URI() string { return s.path }

// Close checkpoints the WAL and closes the pool. Without the checkpoint,
// writes can be stranded in the -wal file between process invocations.
func (s *Source) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Begin opens a write transaction on a dedicated connection. BEGIN
// IMMEDIATE takes the write lock up front so that two transactions never
// deadlock upgrading shared locks mid-flight.
func (s *Source) Begin(ctx context.Context) (storage.Tx, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: source is closed", storage.ErrInternal)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to acquire connection: %w", err))
	}
	if err := beginImmediate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &sqliteTx{conn: conn}, nil
}

const beginMaxElapsed = 5 * time.Second

func newBeginBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = beginMaxElapsed
	return bo
}

// beginImmediate issues BEGIN IMMEDIATE, backing off while the database
// is locked by another writer.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newBeginBackoff(), ctx))
}

// sqliteTx is a transaction on a dedicated connection. The connection
// returns to the pool when the transaction finishes.
type sqliteTx struct {
	conn     *sql.Conn
	finished bool
}

var _ storage.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) Execute(ctx context.Context, query string, args ...any) (storage.ExecResult, error) {
	res, err := t.conn.ExecContext(ctx, query, args...)
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

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (t *sqliteTx) Commit() error {
	if t.finished {
		return fmt.Errorf("%w: commit on finished transaction", storage.ErrInternal)
	}
	t.finished = true
	_, err := t.conn.ExecContext(context.Background(), "COMMIT")
	_ = t.conn.Close()
	if err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Rollback aborts the transaction. It runs on a background context so
// cleanup still happens when the caller's context is already canceled.
func (t *sqliteTx) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	_ = t.conn.Close()
	if err != nil {
		return classify(fmt.Errorf("failed to roll back: %w", err))
	}
	return nil
}

// classify maps driver errors onto the shared storage sentinels.
// Unique-constraint violations become ErrAlreadyExists; anything
// unrecognized surfaces as ErrInternal per the driver contract.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storage.ErrCanceled, err)
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", storage.ErrAlreadyExists, err)
		}
	}
	return fmt.Errorf("%w: %v", storage.ErrInternal, err)
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, the two
// codes worth retrying a BEGIN IMMEDIATE for.
func isBusy(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.BUSY || code == sqlite3.LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}
