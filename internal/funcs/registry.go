// Package funcs holds the process-wide registry of named pure functions
// that profile documents may reference: lifecycle defaults, view
// transformations and validations, and obfuscation transforms. References
// are names registered by the embedding application, or one of the
// data-driven prefix forms (const:, copy:, row:) parsed at resolution
// time. Arbitrary code evaluation is deliberately not supported.
package funcs

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"shrike/internal/record"
)

// Func computes a value from a full candidate record.
type Func func(rec map[string]any) any

// Validator decides whether a record enters a content block. The second
// argument carries the active topic filter paths for two-argument
// validations; one-argument validations just ignore it.
type Validator func(rec map[string]any, topicPaths []string) bool

// Transform rewrites a whole record, as obfuscation and deobfuscation do.
// Transforms must tolerate partial records: filter literals pass through
// the same function as stored data.
type Transform func(rec map[string]any) map[string]any

// UnknownFunctionError is raised when a reference names no registered
// function and matches no prefix form.
type UnknownFunctionError struct {
	Ref string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function reference: %q", e.Ref)
}

// Registry maps names to functions. Registration happens at startup;
// resolution is read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	funcs      map[string]Func
	validators map[string]Validator
	transforms map[string]Transform
}

// NewRegistry returns a registry pre-populated with the builtins.
func NewRegistry() *Registry {
	r := &Registry{
		funcs:      map[string]Func{},
		validators: map[string]Validator{},
		transforms: map[string]Transform{},
	}
	registerBuiltins(r)
	return r
}

// RegisterFunc registers a named record function.
func (r *Registry) RegisterFunc(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// RegisterValidator registers a named content validation.
func (r *Registry) RegisterValidator(name string, fn Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = fn
}

// RegisterTransform registers a named record transform.
func (r *Registry) RegisterTransform(name string, fn Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
}

// Func resolves a function reference. Prefix forms:
//
//	const:<literal>  constant value, literal parsed as a YAML scalar
//	copy:<path>      value of another attribute (dot-separated path)
//	row:<a>,<b>,...  list of attribute values, for table rows
func (r *Registry) Func(ref string) (Func, error) {
	if prefix, arg, ok := splitRef(ref); ok {
		if fn, handled := prefixFunc(prefix, arg); handled {
			return fn, nil
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs[ref]; ok {
		return fn, nil
	}
	return nil, &UnknownFunctionError{Ref: ref}
}

// Validator resolves a validation reference. A plain Func reference is
// accepted too and adapted by truthiness, so one-argument lambdas keep
// working where two-argument validations are allowed.
func (r *Registry) Validator(ref string) (Validator, error) {
	r.mu.RLock()
	if fn, ok := r.validators[ref]; ok {
		r.mu.RUnlock()
		return fn, nil
	}
	r.mu.RUnlock()

	fn, err := r.Func(ref)
	if err != nil {
		return nil, err
	}
	return func(rec map[string]any, _ []string) bool {
		return truthy(fn(rec))
	}, nil
}

// Transform resolves a record transform reference.
func (r *Registry) Transform(ref string) (Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.transforms[ref]; ok {
		return fn, nil
	}
	return nil, &UnknownFunctionError{Ref: ref}
}

func splitRef(ref string) (prefix, arg string, ok bool) {
	i := strings.IndexByte(ref, ':')
	if i <= 0 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

func prefixFunc(prefix, arg string) (Func, bool) {
	switch prefix {
	case "const":
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		return func(map[string]any) any { return v }, true
	case "copy":
		path := strings.Split(arg, ".")
		return func(rec map[string]any) any {
			v, _ := record.Extract(rec, path)
			return v
		}, true
	case "row":
		var paths [][]string
		for _, field := range strings.Split(arg, ",") {
			paths = append(paths, strings.Split(strings.TrimSpace(field), "."))
		}
		return func(rec map[string]any) any {
			row := make([]any, 0, len(paths))
			for _, p := range paths {
				v, _ := record.Extract(rec, p)
				row = append(row, v)
			}
			return row
		}, true
	default:
		return nil, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
