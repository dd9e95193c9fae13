package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned when the override or employee store
	// cannot be read or written
	ErrStoreUnavailable = errors.New("permission store unavailable")
	// ErrEmployeeNotFound is returned for unknown employee ids
	ErrEmployeeNotFound = errors.New("employee not found")
	// ErrEmployeeExists is returned when onboarding an id that is taken
	ErrEmployeeExists = errors.New("employee already exists")
	// ErrInvalidPermission is matched by every *ValidationError
	ErrInvalidPermission = errors.New("invalid permission")
)

// ValidationError rejects a matrix key outside the closed sets. Action is
// only meaningful when Module is known.
type ValidationError struct {
	Module string
	Action string
}

func (e *ValidationError) Error() string {
	if !Module(e.Module).Valid() {
		return fmt.Sprintf("unknown module %q", e.Module)
	}
	return fmt.Sprintf("unknown action %q for module %q", e.Action, e.Module)
}

// Unwrap lets errors.Is match ErrInvalidPermission
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPermission
}
