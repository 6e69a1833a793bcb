// Package filtermask implements declarative conjunctive predicates over
// entity records. A mask is an ordered list of (path, comparator, value)
// expressions; all expressions must hold for a record to match. Relative
// masks resolve the value side against a reference record instead of
// treating it as a literal, which is how filter_mask linkages relate a
// source record to candidate targets.
package filtermask

import (
	"fmt"

	"shrike/internal/record"
)

// Expression is a single comparison triple. Path addresses the record
// (multi-element paths descend into nested linked records). For relative
// masks Value names an attribute path on the reference record.
type Expression struct {
	Path       []string
	Comparator string
	Value      any
}

// FilterMask is a conjunction of expressions.
type FilterMask struct {
	Expressions []Expression
	Relative    bool
}

// New validates the comparator of every expression up front, so masks
// loaded from configuration fail at startup rather than at evaluation.
func New(exprs []Expression) (FilterMask, error) {
	for _, exp := range exprs {
		if _, ok := comparators[exp.Comparator]; !ok {
			return FilterMask{}, &UnknownComparatorError{Comparator: exp.Comparator}
		}
	}
	return FilterMask{Expressions: exprs}, nil
}

// Equal builds the key-lookup mask [attr == value].
func Equal(attr string, value any) FilterMask {
	return FilterMask{Expressions: []Expression{{Path: []string{attr}, Comparator: "==", Value: value}}}
}

// Parse builds a mask from raw configuration triples, where each triple is
// [path, comparator, value] and path is a string or a list of strings.
func Parse(raw [][]any) (FilterMask, error) {
	exprs := make([]Expression, 0, len(raw))
	for _, triple := range raw {
		if len(triple) != 3 {
			return FilterMask{}, fmt.Errorf("filter expression must be a [path, comparator, value] triple, got %v", triple)
		}
		path, err := ParsePath(triple[0])
		if err != nil {
			return FilterMask{}, err
		}
		op, ok := triple[1].(string)
		if !ok {
			return FilterMask{}, fmt.Errorf("filter comparator must be a string, got %v", triple[1])
		}
		exprs = append(exprs, Expression{Path: path, Comparator: op, Value: triple[2]})
	}
	return New(exprs)
}

// ParsePath normalizes a configuration path value (string or list of
// strings) into a key path.
func ParsePath(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		path := make([]string, 0, len(t))
		for _, el := range t {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("filter path element must be a string, got %v", el)
			}
			path = append(path, s)
		}
		return path, nil
	default:
		return nil, fmt.Errorf("filter path must be a string or list of strings, got %v", v)
	}
}

// Matches checks the mask against a record. Missing attribute paths count
// as non-matches, never as errors, so records lacking transformed or
// optional attributes are simply filtered out.
func (m FilterMask) Matches(rec map[string]any) bool {
	return m.MatchesWith(rec, nil)
}

// MatchesWith checks the mask against a record with a reference record for
// relative value resolution.
func (m FilterMask) MatchesWith(rec, reference map[string]any) bool {
	for _, exp := range m.Expressions {
		left, ok := record.Extract(rec, exp.Path)
		if !ok {
			return false
		}
		right := exp.Value
		if m.Relative {
			refPath, err := ParsePath(exp.Value)
			if err != nil {
				return false
			}
			if right, ok = record.Extract(reference, refPath); !ok {
				return false
			}
		}
		match, err := Compare(exp.Comparator, left, right)
		if err != nil || !match {
			return false
		}
	}
	return true
}

// Filter keeps the records matching every mask, preserving input order.
func Filter(recs []map[string]any, masks []FilterMask) []map[string]any {
	if len(masks) == 0 {
		return recs
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		keep := true
		for _, m := range masks {
			if !m.Matches(rec) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out
}

// Transform runs an obfuscation function over the literal values of a
// non-relative mask. Stored attribute values are obfuscated, so caller
// filters must pass through the same transform before reaching a backend.
// The function receives the expression values keyed by their paths and
// must return the transformed values under the same keys, which is why
// obfuscation functions have to tolerate filter literals, not only full
// records.
func (m *FilterMask) Transform(fn func(map[string]any) map[string]any) {
	if m.Relative || len(m.Expressions) == 0 {
		return
	}
	staged := map[string]any{}
	for _, exp := range m.Expressions {
		record.Set(staged, exp.Path, exp.Value)
	}
	staged = fn(staged)
	for i := range m.Expressions {
		if v, ok := record.Extract(staged, m.Expressions[i].Path); ok {
			m.Expressions[i].Value = v
		}
	}
}

// Clone returns a deep copy, so transforms never leak into configuration
// state shared across calls.
func (m FilterMask) Clone() FilterMask {
	exprs := make([]Expression, len(m.Expressions))
	for i, exp := range m.Expressions {
		exprs[i] = Expression{
			Path:       append([]string(nil), exp.Path...),
			Comparator: exp.Comparator,
			Value:      exp.Value,
		}
	}
	return FilterMask{Expressions: exprs, Relative: m.Relative}
}

// Paths lists the attribute paths the mask constrains, joined with dots.
// View topics hand these to two-argument content validations.
func (m FilterMask) Paths() []string {
	out := make([]string, 0, len(m.Expressions))
	for _, exp := range m.Expressions {
		joined := exp.Path[0]
		for _, el := range exp.Path[1:] {
			joined += "." + el
		}
		out = append(out, joined)
	}
	return out
}
