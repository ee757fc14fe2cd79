// Package checkpoint reads thread identifiers from the conversational
// runtime's checkpoint store.
//
// The checkpoint store is the external system of record for turn-by-turn
// conversation state. It is read-only from the registry's perspective:
// only the distinct thread_id column is ever consulted.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultTable is the checkpoint table written by the runtime's checkpointer.
const DefaultTable = "checkpoints"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source is a read-only view over the checkpoint store's thread ids.
type Source struct {
	db    *sql.DB
	table string
}

// Open opens the checkpoint DB read-only. table empty means DefaultTable.
func Open(path string, table string) (*Source, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing checkpoint db path")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	// Table names cannot be bound as parameters; refuse anything that is
	// not a plain identifier.
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid checkpoint table name: %q", table)
	}

	db, err := sql.Open("sqlite", "file:"+p+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Source{db: db, table: table}, nil
}

func (s *Source) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DistinctThreadIDs returns up to limit distinct thread identifiers, in a
// stable order.
func (s *Source) DistinctThreadIDs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("source not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}

	q := fmt.Sprintf(`
SELECT DISTINCT thread_id
FROM %s
WHERE thread_id IS NOT NULL AND TRIM(thread_id) != ''
ORDER BY thread_id ASC
LIMIT ?
`, s.table)

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
