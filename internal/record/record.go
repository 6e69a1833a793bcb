// Package record holds helpers for the generic entity record shape:
// a keyed container (map[string]any) whose values are scalars, nested
// records or lists of nested records (attached linkages).
package record

// Extract resolves a key path inside a record. A path element descending
// into a list of nested records picks the first element, so linkage
// traversal keeps working for 1:n attachments.
func Extract(rec map[string]any, path []string) (any, bool) {
	var cur any = rec
	for _, key := range path {
		if list, ok := cur.([]map[string]any); ok {
			if len(list) == 0 {
				return nil, false
			}
			cur = list[0]
		} else if list, ok := cur.([]any); ok {
			if len(list) == 0 {
				return nil, false
			}
			cur = list[0]
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Exists reports whether the full path resolves.
func Exists(rec map[string]any, path []string) bool {
	_, ok := Extract(rec, path)
	return ok
}

// Set writes a value under a key path, creating intermediate records.
func Set(rec map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := rec
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// Clone copies a record one nesting level deep enough for engine use:
// nested records and record lists are copied, scalars are shared.
func Clone(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		switch t := v.(type) {
		case map[string]any:
			out[k] = Clone(t)
		case []map[string]any:
			list := make([]map[string]any, len(t))
			for i, item := range t {
				list[i] = Clone(item)
			}
			out[k] = list
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
