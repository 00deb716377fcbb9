package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every embedded migration for dialect in file name order.
// Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	files, err := migrationFiles(dialect)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
	for _, name := range files {
		b, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(b)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil && !isAlreadyExistsErr(err) {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func migrationFiles(dialect string) ([]string, error) {
	matches, err := fs.Glob(migrationFS, "migrations/"+dialect+"_*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// splitStatements keeps MySQL happy, which rejects multi-statement Exec
// without multiStatements=true in the DSN.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isAlreadyExistsErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
