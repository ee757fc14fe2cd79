package threadstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultAnonymousUserID is the sentinel owner for threads created
	// without an authenticated user (and for backfilled placeholder rows).
	DefaultAnonymousUserID = "anonymous"

	// DefaultTitle is the placeholder title for threads created without one.
	DefaultTitle = "New Conversation"

	maxTitleRunes = 200
)

// Store is a local SQLite-backed registry of conversation threads.
//
// It owns per-user display metadata only (title, archived flag, open-ended
// metadata document). The turn-by-turn conversation state lives in an
// external checkpoint store that this registry never writes; see Backfill.
//
// Notes:
// - WAL is enabled to support concurrent reads while writing.
// - updated_at_unix_ms is maintained by the store inside every mutating
//   statement, so the guarantee does not depend on a DB trigger.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Thread is one registry row.
type Thread struct {
	ID       int64  `json:"id"`
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`

	IsArchived bool `json:"is_archived"`

	// MetadataJSON is an open-ended JSON object for extensibility.
	MetadataJSON string `json:"metadata_json"`
}

type ThreadsCursor struct {
	UpdatedAtUnixMs int64
	ThreadID        string
}

// EncodeCursor encodes a cursor as a URL-safe base64 string.
func EncodeCursor(c ThreadsCursor) string {
	if c.UpdatedAtUnixMs <= 0 || strings.TrimSpace(c.ThreadID) == "" {
		return ""
	}
	raw := fmt.Sprintf("%d:%s", c.UpdatedAtUnixMs, strings.TrimSpace(c.ThreadID))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(raw string) (ThreadsCursor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ThreadsCursor{}, true
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return ThreadsCursor{}, false
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return ThreadsCursor{}, false
	}
	ms, err := parseInt64(parts[0])
	if err != nil || ms <= 0 {
		return ThreadsCursor{}, false
	}
	id := strings.TrimSpace(parts[1])
	if id == "" {
		return ThreadsCursor{}, false
	}
	return ThreadsCursor{UpdatedAtUnixMs: ms, ThreadID: id}, true
}

func parseInt64(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty")
	}
	return strconv.ParseInt(raw, 10, 64)
}

const threadColumns = `id, user_id, thread_id, title, created_at_unix_ms, updated_at_unix_ms, is_archived, metadata`

func scanThread(row interface{ Scan(...any) error }) (Thread, error) {
	var t Thread
	var archived int
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.ThreadID,
		&t.Title,
		&t.CreatedAtUnixMs,
		&t.UpdatedAtUnixMs,
		&archived,
		&t.MetadataJSON,
	)
	if err != nil {
		return Thread{}, err
	}
	t.IsArchived = archived != 0
	return t, nil
}

// CreateThread inserts a new registry row and returns it as persisted.
//
// Untouched fields take documented defaults: user_id falls back to the
// anonymous sentinel, title to the placeholder, metadata to an empty
// object, created_at == updated_at. A thread_id that already exists fails
// with ErrDuplicateThread regardless of owner.
func (s *Store) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	if s == nil || s.db == nil {
		return Thread{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.UserID = strings.TrimSpace(t.UserID)
	t.ThreadID = strings.TrimSpace(t.ThreadID)
	t.Title = strings.TrimSpace(t.Title)
	t.MetadataJSON = strings.TrimSpace(t.MetadataJSON)

	if t.ThreadID == "" {
		return Thread{}, errors.New("missing thread_id")
	}
	if t.UserID == "" {
		t.UserID = DefaultAnonymousUserID
	}
	if t.Title == "" {
		t.Title = DefaultTitle
	}
	if len([]rune(t.Title)) > maxTitleRunes {
		return Thread{}, fmt.Errorf("%w: title too long", ErrConstraint)
	}
	if t.MetadataJSON == "" {
		t.MetadataJSON = "{}"
	}
	if err := validateMetadataJSON(t.MetadataJSON); err != nil {
		return Thread{}, err
	}

	now := time.Now().UnixMilli()
	if t.CreatedAtUnixMs <= 0 {
		t.CreatedAtUnixMs = now
	}
	t.UpdatedAtUnixMs = t.CreatedAtUnixMs

	res, err := s.db.ExecContext(ctx, `
INSERT INTO threads(user_id, thread_id, title, created_at_unix_ms, updated_at_unix_ms, is_archived, metadata)
VALUES(?, ?, ?, ?, ?, 0, ?)
`,
		t.UserID,
		t.ThreadID,
		t.Title,
		t.CreatedAtUnixMs,
		t.UpdatedAtUnixMs,
		t.MetadataJSON,
	)
	if err != nil {
		return Thread{}, mapConstraintError(err)
	}
	t.ID, _ = res.LastInsertId()
	t.IsArchived = false
	return t, nil
}

// GetThread returns the record for thread_id, or ErrNotFound.
func (s *Store) GetThread(ctx context.Context, threadID string) (Thread, error) {
	if s == nil || s.db == nil {
		return Thread{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return Thread{}, errors.New("missing thread_id")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT `+threadColumns+`
FROM threads
WHERE thread_id = ?
`, threadID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	return t, nil
}

// RenameThread updates title and bumps updated_at_unix_ms.
func (s *Store) RenameThread(ctx context.Context, threadID string, title string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	title = strings.TrimSpace(title)
	if threadID == "" {
		return errors.New("missing thread_id")
	}
	if title == "" {
		title = DefaultTitle
	}
	if len([]rune(title)) > maxTitleRunes {
		return fmt.Errorf("%w: title too long", ErrConstraint)
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE threads
SET title = ?, updated_at_unix_ms = MAX(?, updated_at_unix_ms + 1)
WHERE thread_id = ?
`, title, now, threadID)
	if err != nil {
		return mapConstraintError(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveThread toggles the soft-delete flag and bumps updated_at_unix_ms.
//
// Both transitions are permitted; archived threads stay listable when the
// caller asks for them. This is the only deletion semantic the registry
// exposes.
func (s *Store) ArchiveThread(ctx context.Context, threadID string, archived bool) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE threads
SET is_archived = ?, updated_at_unix_ms = MAX(?, updated_at_unix_ms + 1)
WHERE thread_id = ?
`, boolToInt(archived), now, threadID)
	if err != nil {
		return mapConstraintError(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetThreadMetadata replaces the metadata document and bumps updated_at_unix_ms.
func (s *Store) SetThreadMetadata(ctx context.Context, threadID string, metadataJSON string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	metadataJSON = strings.TrimSpace(metadataJSON)
	if threadID == "" {
		return errors.New("missing thread_id")
	}
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	if err := validateMetadataJSON(metadataJSON); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE threads
SET metadata = ?, updated_at_unix_ms = MAX(?, updated_at_unix_ms + 1)
WHERE thread_id = ?
`, metadataJSON, now, threadID)
	if err != nil {
		return mapConstraintError(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListThreads returns the caller's threads ordered by updated_at_unix_ms
// DESC (thread_id DESC as tie-break). Archived rows are excluded unless
// includeArchived is set. The returned cursor resumes after the last row.
func (s *Store) ListThreads(ctx context.Context, userID string, includeArchived bool, limit int, cursor ThreadsCursor) ([]Thread, string, error) {
	if s == nil || s.db == nil {
		return nil, "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", errors.New("missing user_id")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	args := []any{userID}
	where := ""
	if !includeArchived {
		where += "AND is_archived = 0\n"
	}
	if cursor.UpdatedAtUnixMs > 0 && strings.TrimSpace(cursor.ThreadID) != "" {
		where += "AND (updated_at_unix_ms < ? OR (updated_at_unix_ms = ? AND thread_id < ?))\n"
		args = append(args, cursor.UpdatedAtUnixMs, cursor.UpdatedAtUnixMs, strings.TrimSpace(cursor.ThreadID))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT `+threadColumns+`
FROM threads
WHERE user_id = ?
%s
ORDER BY updated_at_unix_ms DESC, thread_id DESC
LIMIT ?
`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]Thread, 0, limit)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) == 0 {
		return out, "", nil
	}
	last := out[len(out)-1]
	next := EncodeCursor(ThreadsCursor{UpdatedAtUnixMs: last.UpdatedAtUnixMs, ThreadID: last.ThreadID})
	return out, next, nil
}

// CountThreads reports total and archived row counts, optionally scoped to
// one user (empty userID counts the whole registry).
func (s *Store) CountThreads(ctx context.Context, userID string) (total int64, archived int64, err error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userID = strings.TrimSpace(userID)

	q := `SELECT COUNT(1), COALESCE(SUM(is_archived), 0) FROM threads`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&total, &archived); err != nil {
		return 0, 0, err
	}
	return total, archived, nil
}

func validateMetadataJSON(raw string) error {
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrConstraint)
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return fmt.Errorf("%w: metadata must be a JSON object", ErrConstraint)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	const targetVersion = 2

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Fresh DB: create the latest schema directly.
	var exists int
	if err := tx.QueryRow(`
SELECT COUNT(1)
FROM sqlite_master
WHERE type = 'table' AND name = 'threads'
`).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS threads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL DEFAULT 'anonymous',
  thread_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT 'New Conversation',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  is_archived INTEGER NOT NULL DEFAULT 0,
  metadata TEXT NOT NULL DEFAULT '{}',
  UNIQUE(thread_id),
  UNIQUE(user_id, thread_id)
);
CREATE INDEX IF NOT EXISTS idx_threads_user_updated ON threads(user_id, updated_at_unix_ms DESC, thread_id DESC);
CREATE INDEX IF NOT EXISTS idx_threads_user_active ON threads(user_id, updated_at_unix_ms DESC) WHERE is_archived = 0;
`); err != nil {
			return err
		}
	}

	// v1 predates the metadata document.
	if has, err := columnExists(tx, "threads", "metadata"); err != nil {
		return err
	} else if !has {
		if _, err := tx.Exec(`ALTER TABLE threads ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func columnExists(tx *sql.Tx, tableName string, colName string) (bool, error) {
	tableName = strings.TrimSpace(tableName)
	colName = strings.TrimSpace(colName)
	if tableName == "" || colName == "" {
		return false, errors.New("invalid table/column")
	}

	rows, err := tx.Query(`PRAGMA table_info(` + tableName + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notNull int
		var defaultValue sql.NullString
		var primaryKey int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &primaryKey); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), colName) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
