package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps documents in a single table. Every write bumps the
// row version; it is reported but not used as a precondition.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS records_key ON records(key, id);
`

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &IOError{Op: "open", Key: path, Err: err}
	}
	// Several daemons may share the file; let sqlite wait on its own lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, &IOError{Op: "open", Key: path, Err: err}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &IOError{Op: "migrate", Key: path, Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Read(ctx context.Context, key string) (*Document, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var (
		data    []byte
		version int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM documents WHERE key = ?`, key,
	).Scan(&data, &version, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return &Document{
		Key:       key,
		Data:      data,
		Version:   version,
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

func (s *SQLiteStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, data, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			version = documents.version + 1,
			updated_at = excluded.updated_at`,
		key, data, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE key = ?`, key).Scan(&n); err != nil {
		return false, &IOError{Op: "stat", Key: key, Err: err}
	}
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM documents WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &IOError{Op: "list", Key: prefix, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, key string, record []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, data, created_at) VALUES (?, ?, ?)`,
		key, record, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return &IOError{Op: "append", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) ReadRecords(ctx context.Context, key string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &IOError{Op: "read", Key: key, Err: err}
		}
		if json.Valid(data) {
			records = append(records, json.RawMessage(data))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return records, nil
}
