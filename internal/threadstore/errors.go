package threadstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateThread indicates an insert raced or repeated an existing thread_id.
	ErrDuplicateThread = errors.New("thread already exists")

	// ErrNotFound indicates an update or lookup targeting a nonexistent thread_id.
	ErrNotFound = errors.New("thread not found")

	// ErrConstraint covers any other storage-level constraint failure
	// (for example, a malformed metadata document).
	ErrConstraint = errors.New("constraint violation")
)

// mapConstraintError maps SQLite constraint failures onto the registry's
// error kinds. Anything else is surfaced unmodified; the registry performs
// no retries and no silent recovery.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "constraint") {
		return err
	}
	if strings.Contains(msg, "unique") && strings.Contains(msg, "thread_id") {
		return ErrDuplicateThread
	}
	return fmt.Errorf("%w: %v", ErrConstraint, err)
}
