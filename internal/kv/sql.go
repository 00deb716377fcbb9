package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"civicreport/internal/db"
)

// SQL stores entries in the kv_entries table created by db.Migrate.
type SQL struct {
	db      *sql.DB
	dialect string
}

func NewSQL(sqdb *sql.DB, dialect string) *SQL {
	return &SQL{db: sqdb, dialect: dialect}
}

func (s *SQL) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT entry_value, version FROM kv_entries WHERE entry_key=%s`, s.ph(1)),
		key,
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("kv get %s: %w", key, err)
	}
	return e, nil
}

func (s *SQL) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now().UTC()
	if expected == 0 {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO kv_entries(entry_key, entry_value, version, updated_at) VALUES(%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
			key, value, int64(1), now,
		)
		if err == nil {
			return 1, nil
		}
		// A failed insert on an existing key is a lost race, not a storage fault.
		cur, getErr := s.Get(ctx, key)
		if getErr == nil && cur.Found() {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("kv insert %s: %w", key, err)
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE kv_entries SET entry_value=%s, version=version+1, updated_at=%s WHERE entry_key=%s AND version=%s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		value, now, key, expected,
	)
	if err != nil {
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	if rows == 0 {
		return 0, ErrConflict
	}
	return expected + 1, nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM kv_entries WHERE entry_key=%s`, s.ph(1)), key)
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) ph(i int) string {
	if s.dialect == db.DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
