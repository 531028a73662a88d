package identity

import (
	"errors"
	"fmt"
)

// MalformedEntityError signals that a required hashing field is absent.
// Callers must treat it as a hard stop for that item, never a default.
type MalformedEntityError struct {
	Entity string
	Field  string
}

func (e *MalformedEntityError) Error() string {
	return fmt.Sprintf("malformed %s: missing required field %q", e.Entity, e.Field)
}

// ReferenceError signals that a composite message reference could not be
// resolved. The relationship builder logs and skips these.
type ReferenceError struct {
	Ref    string
	Reason string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unresolvable message ref %q: %s", e.Ref, e.Reason)
}

// IsMalformed reports whether err is a MalformedEntityError.
func IsMalformed(err error) bool {
	var me *MalformedEntityError
	return errors.As(err, &me)
}
