package fs

import (
	"errors"
	"fmt"
)

// ConflictError reports a commit-time merge conflict. Path is the full
// path of the first conflicting entry. The transaction remains open and
// valid at its pre-merge state.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("fs: merge conflict at %q", e.Path)
}

// IsConflict reports whether err is a commit merge conflict and, if so,
// returns the conflicting path.
func IsConflict(err error) (string, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Path, true
	}
	return "", false
}

