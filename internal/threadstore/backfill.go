package threadstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// DefaultBackfillLimit bounds one catch-up pass. The migration-time
// backfill is a bounded, one-time catch-up, not an ongoing guarantee.
const DefaultBackfillLimit = 100

// ThreadIDSource yields distinct thread identifiers known to the external
// checkpoint store. The registry only ever reads this set.
type ThreadIDSource interface {
	DistinctThreadIDs(ctx context.Context, limit int) ([]string, error)
}

// BackfillOptions controls one Backfill pass.
type BackfillOptions struct {
	// UserID is the owner recorded on placeholder rows. Empty means the
	// anonymous sentinel.
	UserID string
	// Title is the placeholder title. Empty means the default placeholder.
	Title string
	// Limit bounds how many checkpoint thread ids are considered.
	// <= 0 means DefaultBackfillLimit.
	Limit int
}

// Backfill creates placeholder registry rows for threads the checkpoint
// store knows about but the registry does not.
//
// The whole pass runs in a single transaction and uses ON CONFLICT DO
// NOTHING, so re-running it against the same checkpoint data inserts
// nothing and returns no error. It reports how many rows were inserted.
func (s *Store) Backfill(ctx context.Context, src ThreadIDSource, opts BackfillOptions) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if src == nil {
		return 0, errors.New("nil thread id source")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		userID = DefaultAnonymousUserID
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = DefaultTitle
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}

	ids, err := src.DistinctThreadIDs(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Deterministic order keeps repeated passes stable.
	clean := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	sort.Strings(clean)
	if len(clean) > limit {
		clean = clean[:limit]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, id := range clean {
		res, err := tx.ExecContext(ctx, `
INSERT INTO threads(user_id, thread_id, title, created_at_unix_ms, updated_at_unix_ms, is_archived, metadata)
VALUES(?, ?, ?, ?, ?, 0, '{}')
ON CONFLICT(thread_id) DO NOTHING
`, userID, id, title, now, now)
		if err != nil {
			return 0, mapConstraintError(err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}
