package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestMigrateSQLiteCreatesKVTableAndIsIdempotent(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, sqdb, DialectSQLite); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}
	for _, col := range []string{"entry_key", "entry_value", "version", "updated_at"} {
		if !hasColumn(t, sqdb, "kv_entries", col) {
			t.Fatalf("expected kv_entries.%s to exist after migration", col)
		}
	}
}

func TestMigrationFilesPerDialect(t *testing.T) {
	for _, dialect := range []string{DialectSQLite, DialectPostgres, DialectMySQL} {
		files, err := migrationFiles(dialect)
		if err != nil {
			t.Fatalf("list migrations for %s: %v", dialect, err)
		}
		if len(files) == 0 {
			t.Fatalf("expected migrations for %s", dialect)
		}
	}
	if err := Migrate(context.Background(), nil, "oracle"); err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a(x); ")
	if len(got) != 2 || got[1] != "CREATE INDEX i ON a(x)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "dsn", 1, 1, time.Minute); err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func hasColumn(t *testing.T, sqdb *sql.DB, tableName, colName string) bool {
	t.Helper()
	rows, err := sqdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		t.Fatalf("table_info %s: %v", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info %s: %v", tableName, err)
		}
		if name == colName {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate table_info %s: %v", tableName, err)
	}
	return false
}
