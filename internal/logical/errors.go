package logical

import (
	"errors"
	"fmt"
)

// ErrNotFound marks key lookups that matched no record.
var ErrNotFound = errors.New("record not found")

// MissingRequiredAttributeError rejects a candidate record that, after
// lifecycle defaults, still lacks a required attribute (or explicitly
// nulls one on update).
type MissingRequiredAttributeError struct {
	Entity    string
	Attribute string
}

func (e *MissingRequiredAttributeError) Error() string {
	return fmt.Sprintf("entity %q: required attribute %q is missing", e.Entity, e.Attribute)
}

// LinkageResolutionError wraps failures while resolving a declared
// linkage for a source record.
type LinkageResolutionError struct {
	Linkage string
	Err     error
}

func (e *LinkageResolutionError) Error() string {
	return fmt.Sprintf("linkage %q: %v", e.Linkage, e.Err)
}

func (e *LinkageResolutionError) Unwrap() error { return e.Err }
