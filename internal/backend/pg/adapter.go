// Package pg is the postgres backend: schemas are generated from entity
// profiles as idempotent DDL, filter masks compile to WHERE clauses where
// the comparator allows it, the rest is evaluated in process after the
// fetch.
package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"shrike/internal/backend"
	"shrike/internal/filtermask"
	"shrike/internal/profile"
)

func init() {
	backend.Register("postgres", func(args map[string]any) (backend.Adapter, error) {
		return Open(args)
	})
}

// Adapter runs entity storage on a postgres connection pool.
type Adapter struct {
	db *sql.DB

	mu       sync.RWMutex
	entities map[string]*profile.Entity

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Open connects using the "url" argument of the environment profile.
func Open(args map[string]any) (*Adapter, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("pg: environment arguments miss \"url\"")
	}
	db, err := open(url)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		db:       db,
		entities: map[string]*profile.Entity{},
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func (a *Adapter) Setup(entities map[string]*profile.Entity) error {
	ddl, err := GenerateDDL(entities)
	if err != nil {
		return err
	}
	if err := applyDDL(a.db, ddl); err != nil {
		return err
	}
	a.mu.Lock()
	for name, e := range entities {
		a.entities[name] = e
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Insert(entity string, rec map[string]any) (any, error) {
	e, err := a.entity(entity)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(e.Attributes))
	args := make([]any, 0, len(e.Attributes))
	for _, attr := range e.Attributes {
		v, present := rec[attr.Name]
		if !present || v == nil {
			if attr.Key && attr.Autoincrement {
				// int keys come from bigserial; str keys are minted here
				if attr.Type.Kind == profile.KindStr {
					cols = append(cols, sqlIdent(attr.Name))
					args = append(args, a.newID())
				}
			}
			continue
		}
		enc, err := encode(attr, v)
		if err != nil {
			return nil, &backend.Error{Op: "insert", Entity: entity, Err: err}
		}
		cols = append(cols, sqlIdent(attr.Name))
		args = append(args, enc)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	returning := make([]string, 0, len(e.Keys()))
	for _, k := range e.Keys() {
		returning = append(returning, sqlIdent(k))
	}

	q := fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
		qualified(e), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(returning, ", "))

	dest := make([]any, len(returning))
	holders := make([]any, len(returning))
	for i := range dest {
		holders[i] = &dest[i]
	}
	if err := a.db.QueryRow(q, args...).Scan(holders...); err != nil {
		return nil, &backend.Error{Op: "insert", Entity: entity, Err: err}
	}

	if len(e.Keys()) == 1 {
		attr, _ := e.Attribute(e.Keys()[0])
		return decode(attr, dest[0]), nil
	}
	composite := make(map[string]any, len(e.Keys()))
	for i, name := range e.Keys() {
		attr, _ := e.Attribute(name)
		composite[name] = decode(attr, dest[i])
	}
	return composite, nil
}

func (a *Adapter) Select(entity string, masks []filtermask.FilterMask) ([]map[string]any, error) {
	e, err := a.entity(entity)
	if err != nil {
		return nil, err
	}

	where, args, residual := compileMasks(e, masks)

	cols := make([]string, 0, len(e.Attributes))
	for _, attr := range e.Attributes {
		cols = append(cols, sqlIdent(attr.Name))
	}
	pk := make([]string, 0, len(e.Keys()))
	for _, k := range e.Keys() {
		pk = append(pk, sqlIdent(k))
	}
	q := fmt.Sprintf("select %s from %s", strings.Join(cols, ", "), qualified(e))
	if where != "" {
		q += " where " + where
	}
	q += " order by " + strings.Join(pk, ", ")

	rows, err := a.db.Query(q, args...)
	if err != nil {
		return nil, &backend.Error{Op: "select", Entity: entity, Err: err}
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(e.Attributes))
		holders := make([]any, len(e.Attributes))
		for i := range dest {
			holders[i] = &dest[i]
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, &backend.Error{Op: "select", Entity: entity, Err: err}
		}
		rec := make(map[string]any, len(e.Attributes))
		for i, attr := range e.Attributes {
			rec[attr.Name] = decode(attr, dest[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.Error{Op: "select", Entity: entity, Err: err}
	}
	return filtermask.Filter(out, residual), nil
}

func (a *Adapter) Update(entity string, key any, patch map[string]any) error {
	e, err := a.entity(entity)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+len(e.Keys()))
	for _, attr := range e.Attributes {
		v, present := patch[attr.Name]
		if !present {
			continue
		}
		enc, err := encode(attr, v)
		if err != nil {
			return &backend.Error{Op: "update", Entity: entity, Err: err}
		}
		args = append(args, enc)
		sets = append(sets, fmt.Sprintf("%s = $%d", sqlIdent(attr.Name), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	where, err := a.keyWhere(e, key, &args)
	if err != nil {
		return &backend.Error{Op: "update", Entity: entity, Err: err}
	}
	q := fmt.Sprintf("update %s set %s where %s", qualified(e), strings.Join(sets, ", "), where)

	res, err := a.db.Exec(q, args...)
	if err != nil {
		return &backend.Error{Op: "update", Entity: entity, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &backend.Error{Op: "update", Entity: entity,
			Err: fmt.Errorf("no record under key %v", key)}
	}
	return nil
}

func (a *Adapter) Delete(entity string, key any) error {
	e, err := a.entity(entity)
	if err != nil {
		return err
	}
	var args []any
	where, err := a.keyWhere(e, key, &args)
	if err != nil {
		return &backend.Error{Op: "delete", Entity: entity, Err: err}
	}
	res, err := a.db.Exec(fmt.Sprintf("delete from %s where %s", qualified(e), where), args...)
	if err != nil {
		return &backend.Error{Op: "delete", Entity: entity, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &backend.Error{Op: "delete", Entity: entity,
			Err: fmt.Errorf("no record under key %v", key)}
	}
	return nil
}

func (a *Adapter) Close() error { return a.db.Close() }

func (a *Adapter) entity(name string) (*profile.Entity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entities[name]
	if !ok {
		return nil, &backend.Error{Op: "lookup", Entity: name,
			Err: fmt.Errorf("entity not set up")}
	}
	return e, nil
}

func (a *Adapter) newID() string {
	a.entropyMu.Lock()
	defer a.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), a.entropy).String()
}

func (a *Adapter) keyWhere(e *profile.Entity, key any, args *[]any) (string, error) {
	keys := e.Keys()
	values, ok := key.(map[string]any)
	if !ok {
		if len(keys) != 1 {
			return "", fmt.Errorf("composite key for %s must be a map, got %T", e.Name, key)
		}
		values = map[string]any{keys[0]: key}
	}
	parts := make([]string, 0, len(keys))
	for _, name := range keys {
		v, present := values[name]
		if !present {
			return "", fmt.Errorf("key misses attribute %q", name)
		}
		attr, _ := e.Attribute(name)
		enc, err := encode(attr, v)
		if err != nil {
			return "", err
		}
		*args = append(*args, enc)
		parts = append(parts, fmt.Sprintf("%s = $%d", sqlIdent(name), len(*args)))
	}
	return strings.Join(parts, " and "), nil
}

// compileMasks pushes what SQL can express and returns the rest for
// in-process evaluation. Only flat, non-relative expressions over known
// comparators compile; deep paths address linked sub-records which do
// not exist at this layer anyway.
func compileMasks(e *profile.Entity, masks []filtermask.FilterMask) (string, []any, []filtermask.FilterMask) {
	var (
		parts    []string
		args     []any
		residual []filtermask.FilterMask
	)
	for _, m := range masks {
		if m.Relative {
			residual = append(residual, m)
			continue
		}
		var keep []filtermask.Expression
		for _, exp := range m.Expressions {
			clause, ok := compileExpression(e, exp, &args)
			if !ok {
				keep = append(keep, exp)
				continue
			}
			parts = append(parts, clause)
		}
		if len(keep) > 0 {
			residual = append(residual, filtermask.FilterMask{Expressions: keep})
		}
	}
	return strings.Join(parts, " and "), args, residual
}

func compileExpression(e *profile.Entity, exp filtermask.Expression, args *[]any) (string, bool) {
	if len(exp.Path) != 1 {
		return "", false
	}
	attr, ok := e.Attribute(exp.Path[0])
	if !ok {
		return "", false
	}
	col := sqlIdent(attr.Name)

	switch exp.Comparator {
	case "equals", "==":
		enc, err := encode(attr, exp.Value)
		if err != nil {
			return "", false
		}
		*args = append(*args, enc)
		return fmt.Sprintf("%s = $%d", col, len(*args)), true
	case "not_equals", "!=":
		enc, err := encode(attr, exp.Value)
		if err != nil {
			return "", false
		}
		*args = append(*args, enc)
		return fmt.Sprintf("%s is distinct from $%d", col, len(*args)), true
	case "contains", "has", "not_contains", "not_has":
		s, ok := exp.Value.(string)
		if !ok || !isTextual(attr.Type.Kind) {
			return "", false
		}
		*args = append(*args, s)
		if exp.Comparator == "contains" || exp.Comparator == "has" {
			return fmt.Sprintf("strpos(%s, $%d) > 0", col, len(*args)), true
		}
		return fmt.Sprintf("strpos(%s, $%d) = 0", col, len(*args)), true
	case "is_contained", "in", "not_is_contained", "not_in":
		list, ok := exp.Value.([]any)
		if !ok || len(list) == 0 {
			return "", false
		}
		placeholders := make([]string, 0, len(list))
		for _, v := range list {
			enc, err := encode(attr, v)
			if err != nil {
				return "", false
			}
			*args = append(*args, enc)
			placeholders = append(placeholders, "$"+strconv.Itoa(len(*args)))
		}
		in := fmt.Sprintf("%s in (%s)", col, strings.Join(placeholders, ", "))
		if exp.Comparator == "is_contained" || exp.Comparator == "in" {
			return in, true
		}
		return "not (" + in + ")", true
	default:
		return "", false
	}
}

func isTextual(kind profile.Kind) bool {
	switch kind {
	case profile.KindStr, profile.KindText, profile.KindLongtext, profile.KindChar:
		return true
	}
	return false
}

// encode converts a record value to its driver representation.
func encode(attr *profile.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.Type.Kind {
	case profile.KindDict:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", attr.Name, err)
		}
		return b, nil
	case profile.KindInt:
		switch t := v.(type) {
		case float64:
			return int64(t), nil
		case int:
			return int64(t), nil
		}
		return v, nil
	default:
		return v, nil
	}
}

// decode converts a scanned driver value back into the record form the
// upper layers expect.
func decode(attr *profile.Attribute, v any) any {
	if v == nil {
		return nil
	}
	switch attr.Type.Kind {
	case profile.KindDatetime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	case profile.KindDict:
		var out any
		switch raw := v.(type) {
		case []byte:
			if json.Unmarshal(raw, &out) == nil {
				return out
			}
		case string:
			if json.Unmarshal([]byte(raw), &out) == nil {
				return out
			}
		}
	case profile.KindFloat:
		switch raw := v.(type) {
		case []byte:
			if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				return f
			}
		}
	case profile.KindStr, profile.KindText, profile.KindLongtext, profile.KindChar:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		if s, ok := v.(string); ok && attr.Type.Kind == profile.KindChar {
			return strings.TrimRight(s, " ")
		}
	}
	return v
}
