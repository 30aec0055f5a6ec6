// Package mysql implements the storage source on MySQL via
// go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/metaline/metaline/internal/storage"
)

// Config describes a MySQL server connection. Either DSN is a complete
// go-sql-driver DSN, or the discrete fields are filled in and the DSN is
// derived from them.
type Config struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Source is a handle to one MySQL database.
type Source struct {
	db     *sql.DB
	uri    string
	closed atomic.Bool
}

var _ storage.Source = (*Source)(nil)

const connectMaxElapsed = 30 * time.Second

func newConnectBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed
	return bo
}

// dsn returns the go-sql-driver DSN for the config, deriving one from the
// discrete fields when none was given.
func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Database
	return mc.FormatDSN()
}

// New opens a connection pool to the configured server. The database must
// already exist; schema reconciliation happens in the metadata layer.
func New(ctx context.Context, cfg Config) (*Source, error) {
	dsn := cfg.dsn()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Servers can still be starting when we connect; retry the first ping
	// for transient errors instead of failing the open outright.
	bo := newConnectBackoff()
	err = backoff.Retry(func() error {
		pingErr := db.PingContext(ctx)
		if pingErr != nil && !isRetryable(pingErr) {
			return backoff.Permanent(pingErr)
		}
		return pingErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	uri := dsn
	if mc, perr := mysql.ParseDSN(dsn); perr == nil {
		// Redact credentials for logs.
		uri = fmt.Sprintf("mysql://%s/%s", mc.Addr, mc.DBName)
	}
	return &Source{db: db, uri: uri}, nil
}

// Engine implements storage.Source.
func (s *Source) Engine() string { return "mysql" }

// URI implements storage.Source.
func (s *Source) URI() string { return s.uri }

// Close implements storage.Source.
func (s *Source) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Begin implements storage.Source, retrying transient connection errors
// (stale pool connections, brief network blips, server restarts).
func (s *Source) Begin(ctx context.Context) (storage.Tx, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: source is closed", storage.ErrInternal)
	}
	var tx *sql.Tx
	bo := newConnectBackoff()
	err := backoff.Retry(func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		if beginErr != nil && !isRetryable(beginErr) {
			return backoff.Permanent(beginErr)
		}
		return beginErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &mysqlTx{tx: tx}, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*mysqlTx)(nil)

func (t *mysqlTx) Execute(ctx context.Context, query string, args ...any) (storage.ExecResult, error) {
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

func (t *mysqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (t *mysqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (t *mysqlTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify(fmt.Errorf("failed to roll back: %w", err))
	}
	return nil
}

// classify maps driver errors onto the shared storage sentinels. MySQL
// reports duplicate keys as error 1062 (ER_DUP_ENTRY).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storage.ErrCanceled, err)
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) && merr.Number == 1062 {
		return fmt.Errorf("%w: %v", storage.ErrAlreadyExists, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "duplicate entry") {
		return fmt.Errorf("%w: %v", storage.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%w: %v", storage.ErrInternal, err)
}

// isRetryable reports whether the error is a transient connection error
// worth retrying. Persistent failures (bad credentials, unknown
// database) fail immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
