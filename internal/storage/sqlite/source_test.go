package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/metaline/metaline/internal/storage"
)

func openMemory(t *testing.T) *Source {
	t.Helper()
	src, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)

	err := storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		if _, err := tx.Execute(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT)`); err != nil {
			return err
		}
		res, err := tx.Execute(ctx, `INSERT INTO t (v) VALUES (?)`, "hello")
		if err != nil {
			return err
		}
		if res.LastInsertID != 1 {
			t.Errorf("LastInsertID = %d, want 1", res.LastInsertID)
		}
		if res.RowsAffected != 1 {
			t.Errorf("RowsAffected = %d, want 1", res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("write transaction: %v", err)
	}

	err = storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT v FROM t WHERE id = ?`, 1)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			t.Fatal("row not found after commit")
		}
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		if v != "hello" {
			t.Errorf("v = %q, want %q", v, "hello")
		}
		return rows.Err()
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)

	if err := storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		_, err := tx.Execute(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
		return err
	}); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		if _, err := tx.Execute(ctx, `INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want %v", err, boom)
	}

	err = storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT count(*) FROM t`)
		if err != nil {
			return err
		}
		defer rows.Close()
		var n int
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return err
			}
		}
		if n != 0 {
			t.Errorf("count = %d after rollback, want 0", n)
		}
		return rows.Err()
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}

// Separate in-memory sources must not share data even though shared
// cache mode names the database.
func TestMemorySourcesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)
	b := openMemory(t)

	if err := storage.RunInTx(ctx, a, func(tx storage.Tx) error {
		_, err := tx.Execute(ctx, `CREATE TABLE only_in_a (id INTEGER)`)
		return err
	}); err != nil {
		t.Fatalf("create in a: %v", err)
	}

	err := storage.RunInTx(ctx, b, func(tx storage.Tx) error {
		_, err := tx.Query(ctx, `SELECT * FROM only_in_a`)
		return err
	})
	if err == nil {
		t.Fatal("table created in source a is visible in source b")
	}
}

func TestUniqueViolationClassified(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)

	err := storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		if _, err := tx.Execute(ctx, `CREATE TABLE t (v TEXT, UNIQUE (v))`); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, `INSERT INTO t (v) VALUES ('x')`); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, `INSERT INTO t (v) VALUES ('x')`)
		return err
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate insert = %v, want ErrAlreadyExists", err)
	}
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "meta.db")

	src, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := storage.RunInTx(ctx, src, func(tx storage.Tx) error {
		if _, err := tx.Execute(ctx, `CREATE TABLE t (id INTEGER)`); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, `INSERT INTO t (id) VALUES (7)`)
		return err
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	err = storage.RunInTx(ctx, reopened, func(tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM t`)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			t.Fatal("row did not survive reopen")
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if id != 7 {
			t.Errorf("id = %d, want 7", id)
		}
		return rows.Err()
	})
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
}

func TestEngineAndURI(t *testing.T) {
	src := openMemory(t)
	if got := src.Engine(); got != "sqlite" {
		t.Errorf("Engine() = %q, want %q", got, "sqlite")
	}
	if got := src.URI(); got != ":memory:" {
		t.Errorf("URI() = %q, want %q", got, ":memory:")
	}
}
