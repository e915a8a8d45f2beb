// Package access decides whether a user may view or edit a task. Every
// task-reading or task-mutating operation goes through Authorize so the
// creator-always-allowed rule is enforced in exactly one place.
package access

import (
	"fmt"

	"github.com/0neda/trackify/internal/apperr"
)

// Level is a grant level on a task.
type Level string

const (
	LevelView Level = "view"
	LevelEdit Level = "edit"
)

// ParseLevel validates a wire-format access level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelView, LevelEdit:
		return Level(s), nil
	}
	return "", apperr.Validationf("access level must be view or edit, got %q", s)
}

// Authorize reports whether userID holds the required level on a task.
// creatorID is the task's creator and grant is the user's access grant if
// one exists (nil otherwise). The creator is always allowed; an edit grant
// implies view; a view grant does not imply edit.
func Authorize(creatorID, userID int64, grant *Level, required Level) bool {
	if creatorID == userID {
		return true
	}
	if grant == nil {
		return false
	}
	if required == LevelView {
		return true
	}
	return *grant == LevelEdit
}

// Check is Authorize returning a Forbidden error instead of a bool.
func Check(creatorID, userID int64, grant *Level, required Level) error {
	if Authorize(creatorID, userID, grant, required) {
		return nil
	}
	return fmt.Errorf("user %d does not have %s access: %w", userID, required, apperr.ErrForbidden)
}
