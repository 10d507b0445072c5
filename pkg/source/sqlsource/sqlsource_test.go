package sqlsource

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openQueueDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`CREATE TABLE jobs (id INTEGER PRIMARY KEY AUTOINCREMENT, payload TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func TestSource_ClaimsOldestFirst(t *testing.T) {
	db := openQueueDB(t)
	for _, payload := range []string{"first", "second", "third"} {
		if _, err := db.Exec(`INSERT INTO jobs (payload) VALUES (?)`, payload); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	src, err := New(db, Options{Table: "jobs"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, want := range []string{"first", "second", "third"} {
		item, ok, err := src.TryNext()
		if err != nil {
			t.Fatalf("TryNext() error = %v", err)
		}
		if !ok {
			t.Fatalf("TryNext() = empty, want %q", want)
		}
		if item != want {
			t.Errorf("TryNext() = %v, want %q", item, want)
		}
	}

	// Claimed rows are gone.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rows left after draining = %d, want 0", count)
	}
}

func TestSource_EmptyTable(t *testing.T) {
	db := openQueueDB(t)
	src, err := New(db, Options{Table: "jobs"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	item, ok, err := src.TryNext()
	if err != nil {
		t.Fatalf("TryNext() error = %v", err)
	}
	if ok {
		t.Errorf("TryNext() on empty table = %v, want empty", item)
	}
}

func TestNew_RequiresTable(t *testing.T) {
	db := openQueueDB(t)
	if _, err := New(db, Options{}); err == nil {
		t.Error("New() without table succeeded")
	}
}

func TestSource_MissingTableIsError(t *testing.T) {
	db := openQueueDB(t)
	src, err := New(db, Options{Table: "nope"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, _, err := src.TryNext(); err == nil {
		t.Error("TryNext() against missing table succeeded")
	}
}
