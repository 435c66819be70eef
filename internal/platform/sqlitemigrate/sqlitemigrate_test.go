package sqlitemigrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestApplyRecordsMigrationsOnce(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_catalogs.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE catalogs(product_id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE catalogs;"),
		},
		"002_lines.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE lines(id TEXT PRIMARY KEY);"),
		},
		"README.md": &fstest.MapFile{Data: []byte("ignored")},
	}

	for i := 0; i < 2; i++ {
		if err := Apply(context.Background(), db, migrations, ""); err != nil {
			t.Fatalf("apply #%d: %v", i, err)
		}
	}

	if rows := countRows(t, db, "schema_migrations"); rows != 2 {
		t.Fatalf("expected 2 migration rows, got %d", rows)
	}
	if !tableExists(t, db, "catalogs") || !tableExists(t, db, "lines") {
		t.Fatalf("expected migrated tables to exist")
	}
}

func TestApplyDoesNotRecordFailedMigration(t *testing.T) {
	db := openInMemoryDB(t)
	bad := fstest.MapFS{
		"001_bad.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREAT TABLE things(id INT);")},
	}
	if err := Apply(context.Background(), db, bad, "."); err == nil {
		t.Fatalf("expected bad migration to fail")
	}
	if rows := countRows(t, db, "schema_migrations"); rows != 0 {
		t.Fatalf("expected failed migration to stay unrecorded, got %d", rows)
	}
}

func TestApplyRespectsRoot(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"sql/001_orders.sql": &fstest.MapFile{Data: []byte("CREATE TABLE order_lines(id TEXT PRIMARY KEY);")},
	}
	if err := Apply(context.Background(), db, migrations, "sql"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM schema_migrations").Scan(&name); err != nil {
		t.Fatalf("query: %v", err)
	}
	if name != "sql/001_orders.sql" {
		t.Fatalf("expected rooted key, got %q", name)
	}
}

func TestUpSection(t *testing.T) {
	got := UpSection("-- header\n-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a(x);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
}

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("check table: %v", err)
	}
	return true
}
