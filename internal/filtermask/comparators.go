package filtermask

import (
	"fmt"
	"reflect"
	"strings"
)

// UnknownComparatorError is raised when a mask names a comparator outside
// the supported set.
type UnknownComparatorError struct {
	Comparator string
}

func (e *UnknownComparatorError) Error() string {
	return fmt.Sprintf("unknown comparator: %q", e.Comparator)
}

type comparator func(left, right any) bool

// Closed comparator set. Aliases map onto the same semantics as their
// long-form names.
var comparators = map[string]comparator{
	"equals":           eq,
	"not_equals":       func(l, r any) bool { return !eq(l, r) },
	"contains":         contains,
	"not_contains":     func(l, r any) bool { return !contains(l, r) },
	"is_contained":     func(l, r any) bool { return contains(r, l) },
	"not_is_contained": func(l, r any) bool { return !contains(r, l) },
	"==":               eq,
	"!=":               func(l, r any) bool { return !eq(l, r) },
	"has":              contains,
	"not_has":          func(l, r any) bool { return !contains(l, r) },
	"in":               func(l, r any) bool { return contains(r, l) },
	"not_in":           func(l, r any) bool { return !contains(r, l) },
}

// Compare applies a named comparator to two values.
func Compare(name string, left, right any) (bool, error) {
	cmp, ok := comparators[name]
	if !ok {
		return false, &UnknownComparatorError{Comparator: name}
	}
	return cmp(left, right), nil
}

// eq compares loosely across the numeric types JSON and YAML decoding
// produce (int vs float64 for the same literal).
func eq(left, right any) bool {
	if lf, ok := asFloat(left); ok {
		if rf, ok := asFloat(right); ok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(left, right)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// contains implements "right is a member/part of left": substring for
// strings, element membership for sequences, key membership for records.
func contains(left, right any) bool {
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && strings.Contains(l, r)
	case []any:
		for _, item := range l {
			if eq(item, right) {
				return true
			}
		}
	case []string:
		r, ok := right.(string)
		if !ok {
			return false
		}
		for _, item := range l {
			if item == r {
				return true
			}
		}
	case []map[string]any:
		for _, item := range l {
			if eq(any(item), right) {
				return true
			}
		}
	case map[string]any:
		r, ok := right.(string)
		if !ok {
			return false
		}
		_, present := l[r]
		return present
	}
	return false
}
