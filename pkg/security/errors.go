package security

import (
	"errors"
	"fmt"
)

// ErrSignTargetNotFound is matched by every SignTargetNotFoundError
var ErrSignTargetNotFound = errors.New("signature target not found")

// SignTargetNotFoundError is returned when the element to sign cannot be
// identified unambiguously
type SignTargetNotFoundError struct {
	ID    string
	Tag   string
	Found int
}

func (e *SignTargetNotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("signature target with Id %q: found %d elements, want 1", e.ID, e.Found)
	}
	return fmt.Sprintf("signature target <%s>: found %d elements, want 1", e.Tag, e.Found)
}

func (e *SignTargetNotFoundError) Is(target error) bool {
	return target == ErrSignTargetNotFound
}
