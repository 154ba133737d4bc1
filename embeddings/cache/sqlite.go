package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore keeps vectors in a SQLite table as little-endian float32 blobs.
type SqliteStore struct {
	db        *sql.DB
	tableName string
}

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "embedding_cache"
}

// NewSqliteStore opens the database and creates the table if needed.
func NewSqliteStore(opts SqliteOptions) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "embedding_cache"
	}

	store := &SqliteStore{
		db:        db,
		tableName: tableName,
	}

	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			vector BLOB NOT NULL
		);
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// MGet implements Store.
func (s *SqliteStore) MGet(ctx context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pos := make(map[string][]int, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		pos[k] = append(pos[k], i)
		args[i] = k
	}

	query := fmt.Sprintf(`SELECT cache_key, vector FROM %s WHERE cache_key IN (%s)`,
		s.tableName, strings.TrimSuffix(strings.Repeat("?,", len(keys)), ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		for _, i := range pos[key] {
			out[i] = vec
		}
	}
	return out, rows.Err()
}

// MSet implements Store.
func (s *SqliteStore) MSet(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (cache_key, vector) VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET vector = excluded.vector
	`, s.tableName)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, k, encodeVector(v)); err != nil {
			return fmt.Errorf("failed to save vector: %w", err)
		}
	}
	return tx.Commit()
}
