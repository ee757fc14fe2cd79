package threadstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "threads.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateThenGet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1", Title: "Trip planning"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("ID=%d, want > 0", created.ID)
	}
	if created.CreatedAtUnixMs != created.UpdatedAtUnixMs {
		t.Fatalf("created=%d updated=%d, want equal on insert", created.CreatedAtUnixMs, created.UpdatedAtUnixMs)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.UserID != "u1" || got.ThreadID != "t1" || got.Title != "Trip planning" {
		t.Fatalf("got %+v, want u1/t1/Trip planning", got)
	}
	if got.IsArchived {
		t.Fatalf("IsArchived=true, want false")
	}
	if got.MetadataJSON != "{}" {
		t.Fatalf("MetadataJSON=%q, want {}", got.MetadataJSON)
	}
	if got.CreatedAtUnixMs != got.UpdatedAtUnixMs {
		t.Fatalf("created=%d updated=%d, want equal before any mutation", got.CreatedAtUnixMs, got.UpdatedAtUnixMs)
	}
}

func TestStore_CreateDefaults(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, Thread{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if created.UserID != DefaultAnonymousUserID {
		t.Fatalf("UserID=%q, want %q", created.UserID, DefaultAnonymousUserID)
	}
	if created.Title != DefaultTitle {
		t.Fatalf("Title=%q, want %q", created.Title, DefaultTitle)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1"}); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	// Same thread_id, same user.
	if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1"}); !errors.Is(err, ErrDuplicateThread) {
		t.Fatalf("err=%v, want ErrDuplicateThread", err)
	}
	// Same thread_id, different user: thread ids are globally unique.
	if _, err := s.CreateThread(ctx, Thread{UserID: "u2", ThreadID: "t1"}); !errors.Is(err, ErrDuplicateThread) {
		t.Fatalf("err=%v, want ErrDuplicateThread across users", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.GetThread(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestStore_RenameBumpsUpdatedAt(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1", Title: "old"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	if err := s.RenameThread(ctx, "t1", "new title"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.Title != "new title" {
		t.Fatalf("Title=%q, want %q", got.Title, "new title")
	}
	if got.UpdatedAtUnixMs <= created.UpdatedAtUnixMs {
		t.Fatalf("UpdatedAtUnixMs=%d, want > %d", got.UpdatedAtUnixMs, created.UpdatedAtUnixMs)
	}
	if got.CreatedAtUnixMs != created.CreatedAtUnixMs {
		t.Fatalf("CreatedAtUnixMs changed: got=%d want=%d", got.CreatedAtUnixMs, created.CreatedAtUnixMs)
	}

	// A second rename keeps advancing, even within the same millisecond.
	prev := got.UpdatedAtUnixMs
	if err := s.RenameThread(ctx, "t1", "newer title"); err != nil {
		t.Fatalf("RenameThread again: %v", err)
	}
	got, err = s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread again: %v", err)
	}
	if got.UpdatedAtUnixMs <= prev {
		t.Fatalf("UpdatedAtUnixMs=%d, want > %d", got.UpdatedAtUnixMs, prev)
	}

	if err := s.RenameThread(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rename missing: err=%v, want ErrNotFound", err)
	}
}

func TestStore_RenameTitleTooLong(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1"}); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := s.RenameThread(ctx, "t1", strings.Repeat("x", 201)); !errors.Is(err, ErrConstraint) {
		t.Fatalf("err=%v, want ErrConstraint", err)
	}
}

func TestStore_ArchiveToggle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1", Title: "Trip planning"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	if err := s.ArchiveThread(ctx, "t1", true); err != nil {
		t.Fatalf("ArchiveThread true: %v", err)
	}
	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if !got.IsArchived {
		t.Fatalf("IsArchived=false, want true")
	}
	if got.UpdatedAtUnixMs <= created.UpdatedAtUnixMs {
		t.Fatalf("UpdatedAtUnixMs=%d, want > %d", got.UpdatedAtUnixMs, created.UpdatedAtUnixMs)
	}

	// Archived threads are hidden from the default listing, visible on request.
	visible, _, err := s.ListThreads(ctx, "u1", false, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads active: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("active list len=%d, want 0", len(visible))
	}
	all, _, err := s.ListThreads(ctx, "u1", true, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads all: %v", err)
	}
	if len(all) != 1 || all[0].ThreadID != "t1" {
		t.Fatalf("all list=%+v, want the one archived thread", all)
	}

	// Both transitions are permitted.
	if err := s.ArchiveThread(ctx, "t1", false); err != nil {
		t.Fatalf("ArchiveThread false: %v", err)
	}
	got, err = s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread after unarchive: %v", err)
	}
	if got.IsArchived {
		t.Fatalf("IsArchived=true, want false")
	}

	if err := s.ArchiveThread(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("archive missing: err=%v, want ErrNotFound", err)
	}
}

func TestStore_SetThreadMetadata(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	if err := s.SetThreadMetadata(ctx, "t1", `{"pinned":true}`); err != nil {
		t.Fatalf("SetThreadMetadata: %v", err)
	}
	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.MetadataJSON != `{"pinned":true}` {
		t.Fatalf("MetadataJSON=%q", got.MetadataJSON)
	}
	if got.UpdatedAtUnixMs <= created.UpdatedAtUnixMs {
		t.Fatalf("UpdatedAtUnixMs=%d, want > %d", got.UpdatedAtUnixMs, created.UpdatedAtUnixMs)
	}

	if err := s.SetThreadMetadata(ctx, "t1", `not json`); !errors.Is(err, ErrConstraint) {
		t.Fatalf("malformed metadata: err=%v, want ErrConstraint", err)
	}
	if err := s.SetThreadMetadata(ctx, "t1", `[1,2,3]`); !errors.Is(err, ErrConstraint) {
		t.Fatalf("non-object metadata: err=%v, want ErrConstraint", err)
	}
	if err := s.SetThreadMetadata(ctx, "missing", `{}`); !errors.Is(err, ErrNotFound) {
		t.Fatalf("metadata on missing: err=%v, want ErrNotFound", err)
	}
}

func TestStore_ListThreadsOrderAndScope(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: id, CreatedAtUnixMs: int64(1000 + i)}); err != nil {
			t.Fatalf("CreateThread %s: %v", id, err)
		}
	}
	if _, err := s.CreateThread(ctx, Thread{UserID: "u2", ThreadID: "other"}); err != nil {
		t.Fatalf("CreateThread other: %v", err)
	}

	out, _, err := s.ListThreads(ctx, "u1", false, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len=%d, want 3", len(out))
	}
	for _, th := range out {
		if th.UserID != "u1" {
			t.Fatalf("leaked thread from user %q", th.UserID)
		}
	}
	// Most recently updated first.
	if out[0].ThreadID != "c" || out[1].ThreadID != "b" || out[2].ThreadID != "a" {
		t.Fatalf("order=%s,%s,%s, want c,b,a", out[0].ThreadID, out[1].ThreadID, out[2].ThreadID)
	}

	// Renaming bumps a thread to the top.
	if err := s.RenameThread(ctx, "a", "bumped"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	out, _, err = s.ListThreads(ctx, "u1", false, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads after rename: %v", err)
	}
	if out[0].ThreadID != "a" {
		t.Fatalf("first=%s, want a", out[0].ThreadID)
	}
}

func TestStore_ListThreadsPagination(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		th := Thread{UserID: "u1", ThreadID: string(rune('a' + i)), CreatedAtUnixMs: int64(1000 + i)}
		if _, err := s.CreateThread(ctx, th); err != nil {
			t.Fatalf("CreateThread %d: %v", i, err)
		}
	}

	first, next, err := s.ListThreads(ctx, "u1", false, 2, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads page 1: %v", err)
	}
	if len(first) != 2 || next == "" {
		t.Fatalf("page 1 len=%d next=%q", len(first), next)
	}
	cursor, ok := DecodeCursor(next)
	if !ok {
		t.Fatalf("DecodeCursor(%q) failed", next)
	}

	rest, _, err := s.ListThreads(ctx, "u1", false, 10, cursor)
	if err != nil {
		t.Fatalf("ListThreads page 2: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("page 2 len=%d, want 3", len(rest))
	}
	seen := map[string]bool{}
	for _, th := range append(first, rest...) {
		if seen[th.ThreadID] {
			t.Fatalf("thread %s returned twice", th.ThreadID)
		}
		seen[th.ThreadID] = true
	}
}

func TestStore_CountThreads(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: id}); err != nil {
			t.Fatalf("CreateThread %s: %v", id, err)
		}
	}
	if err := s.ArchiveThread(ctx, "b", true); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}

	total, archived, err := s.CountThreads(ctx, "u1")
	if err != nil {
		t.Fatalf("CountThreads: %v", err)
	}
	if total != 3 || archived != 1 {
		t.Fatalf("total=%d archived=%d, want 3/1", total, archived)
	}
}

// The scenario from the registry contract, end to end.
func TestStore_ArchiveScenario(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, Thread{UserID: "u1", ThreadID: "t1", Title: "Trip planning"}); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.UserID != "u1" || got.ThreadID != "t1" || got.Title != "Trip planning" || got.IsArchived {
		t.Fatalf("unexpected record: %+v", got)
	}
	prev := got.UpdatedAtUnixMs

	if err := s.ArchiveThread(ctx, "t1", true); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}
	got, err = s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread after archive: %v", err)
	}
	if !got.IsArchived {
		t.Fatalf("IsArchived=false, want true")
	}
	if got.UpdatedAtUnixMs <= prev {
		t.Fatalf("UpdatedAtUnixMs=%d, want > %d", got.UpdatedAtUnixMs, prev)
	}

	active, _, err := s.ListThreads(ctx, "u1", false, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active len=%d, want 0", len(active))
	}
	all, _, err := s.ListThreads(ctx, "u1", true, 0, ThreadsCursor{})
	if err != nil {
		t.Fatalf("ListThreads all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("all len=%d, want 1", len(all))
	}
}

func TestStore_MigrateFromV1AddsMetadata(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "threads.sqlite")
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = raw.Exec(`
CREATE TABLE IF NOT EXISTS threads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL DEFAULT 'anonymous',
  thread_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT 'New Conversation',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  is_archived INTEGER NOT NULL DEFAULT 0,
  UNIQUE(thread_id),
  UNIQUE(user_id, thread_id)
);
INSERT INTO threads(user_id, thread_id, title, created_at_unix_ms, updated_at_unix_ms)
VALUES('u1', 't1', 'pre-migration', 1000, 1000);
PRAGMA user_version=1;
`)
	if err != nil {
		t.Fatalf("init v1 schema: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open with migration: %v", err)
	}
	defer func() { _ = s.Close() }()

	got, err := s.GetThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.MetadataJSON != "{}" {
		t.Fatalf("MetadataJSON=%q, want {} after migration", got.MetadataJSON)
	}

	var version int
	if err := s.db.QueryRow(`PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != 2 {
		t.Fatalf("user_version=%d, want 2", version)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	enc := EncodeCursor(ThreadsCursor{UpdatedAtUnixMs: 1234, ThreadID: "t1"})
	if enc == "" {
		t.Fatalf("EncodeCursor returned empty")
	}
	dec, ok := DecodeCursor(enc)
	if !ok {
		t.Fatalf("DecodeCursor failed")
	}
	if dec.UpdatedAtUnixMs != 1234 || dec.ThreadID != "t1" {
		t.Fatalf("decoded=%+v", dec)
	}

	if _, ok := DecodeCursor(""); !ok {
		t.Fatalf("empty cursor should decode to zero value")
	}
	if _, ok := DecodeCursor("!!!"); ok {
		t.Fatalf("garbage cursor should fail")
	}
}
