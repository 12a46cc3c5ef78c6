package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUploadNotFound is returned when no upload record exists for a file name.
var ErrUploadNotFound = errors.New("upload record not found")

// Upload is the ledger entry for one stored image.
type Upload struct {
	ID           string
	FileName     string
	OriginalName string
	ContentType  string
	SizeBytes    int64
	UploadedAt   time.Time
}

// Store persists the upload ledger and service settings in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time keeps modernc.org/sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL UNIQUE,
	original_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	uploaded_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_uploaded_at ON uploads(uploaded_at_unix_ms);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// CreateUpload records one stored image. A record with the same file name
// replaces the previous one.
func (s *Store) CreateUpload(ctx context.Context, u Upload) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("upload id is required")
	}
	if strings.TrimSpace(u.FileName) == "" {
		return fmt.Errorf("upload file name is required")
	}
	if strings.TrimSpace(u.OriginalName) == "" {
		return fmt.Errorf("upload original name is required")
	}
	if u.SizeBytes < 0 {
		return fmt.Errorf("upload size must be non-negative")
	}
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now().UTC()
	}

	const q = `
INSERT OR REPLACE INTO uploads (
	id, file_name, original_name, content_type, size_bytes, uploaded_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q,
		u.ID,
		u.FileName,
		u.OriginalName,
		u.ContentType,
		u.SizeBytes,
		u.UploadedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	slog.Debug("upload recorded", "upload_id", u.ID, "file", u.FileName, "size", u.SizeBytes)
	return nil
}

// UploadByFileName returns the ledger entry for a stored file name.
func (s *Store) UploadByFileName(ctx context.Context, name string) (Upload, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Upload{}, fmt.Errorf("file name is required")
	}

	const q = `
SELECT id, file_name, original_name, content_type, size_bytes, uploaded_at_unix_ms
FROM uploads
WHERE file_name = ?
`
	u, err := scanUpload(s.db.QueryRowContext(ctx, q, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Upload{}, ErrUploadNotFound
		}
		return Upload{}, fmt.Errorf("query upload: %w", err)
	}
	return u, nil
}

// Uploads returns ledger entries keyed by file name.
func (s *Store) Uploads(ctx context.Context) (map[string]Upload, error) {
	const q = `
SELECT id, file_name, original_name, content_type, size_bytes, uploaded_at_unix_ms
FROM uploads
ORDER BY uploaded_at_unix_ms, id
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Upload)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out[u.FileName] = u
	}
	return out, rows.Err()
}

// RecentUploads returns up to limit entries, newest first.
func (s *Store) RecentUploads(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, file_name, original_name, content_type, size_bytes, uploaded_at_unix_ms
FROM uploads
ORDER BY uploaded_at_unix_ms DESC, id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UploadCount returns the number of ledger entries.
func (s *Store) UploadCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uploads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

// GetSetting returns the value for key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting: %w", err)
	}
	return v, true, nil
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// AllSettings returns every setting.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Backup writes a consistent copy of the database to dst.
func (s *Store) Backup(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("backup target %s already exists", dst)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (Upload, error) {
	var (
		u          Upload
		uploadedMs int64
	)
	if err := row.Scan(&u.ID, &u.FileName, &u.OriginalName, &u.ContentType, &u.SizeBytes, &uploadedMs); err != nil {
		return Upload{}, err
	}
	u.UploadedAt = time.UnixMilli(uploadedMs).UTC()
	return u, nil
}
