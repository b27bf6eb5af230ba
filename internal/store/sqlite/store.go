// Package sqlite persists canonical country, language and project values and
// the database ids assigned to them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bannerstream/internal/entity"
	"bannerstream/internal/store/sqlite/migrations"
)

// Store is a SQLite-backed entity.Store.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadAll returns every saved value of kind with its id.
func (s *Store) LoadAll(ctx context.Context, kind entity.Kind) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value, id FROM entities WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			value string
			id    int64
		)
		if err := rows.Scan(&value, &id); err != nil {
			return nil, err
		}
		out[value] = id
	}
	return out, rows.Err()
}

// Save inserts value if it is new and returns its id either way.
func (s *Store) Save(ctx context.Context, kind entity.Kind, value string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (kind, value, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (kind, value) DO NOTHING`,
		string(kind), value, time.Now().UTC().UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("insert entity: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE kind = ? AND value = ?`, string(kind), value,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("select entity id: %w", err)
	}
	return id, nil
}

// Count returns the number of saved values of kind.
func (s *Store) Count(ctx context.Context, kind entity.Kind) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM entities WHERE kind = ?`, string(kind)).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
