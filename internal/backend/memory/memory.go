// Package memory is the in-process reference backend: insertion-ordered
// tables held in maps, guarded by one mutex. It backs tests and demo
// setups, and doubles as the executable description of the adapter
// contract every other backend has to honor.
package memory

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"shrike/internal/backend"
	"shrike/internal/filtermask"
	"shrike/internal/profile"
	"shrike/internal/record"
)

func init() {
	backend.Register("memory", func(args map[string]any) (backend.Adapter, error) {
		return New(), nil
	})
}

// table keeps rows in insertion order; Select order is stable across
// updates because updates patch in place.
type table struct {
	entity *profile.Entity
	order  []string
	rows   map[string]map[string]any
	seq    int64
}

// Store is the in-memory adapter. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	tables  map[string]*table
	entropy *ulid.MonotonicEntropy
}

// New returns an empty store. Setup must run before any operation.
func New() *Store {
	return &Store{
		tables:  map[string]*table{},
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Setup creates one table per entity. Existing tables survive, so a
// reconfiguration keeps data for entities that are still declared.
func (s *Store) Setup(entities map[string]*profile.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, entity := range entities {
		if t, ok := s.tables[name]; ok {
			t.entity = entity
			continue
		}
		s.tables[name] = &table{entity: entity, rows: map[string]map[string]any{}}
	}
	return nil
}

func (s *Store) Insert(entity string, rec map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}

	rec = record.Clone(rec)
	for _, name := range t.entity.Keys() {
		attr, _ := t.entity.Attribute(name)
		if !attr.Autoincrement {
			continue
		}
		if v, ok := rec[name]; ok && v != nil {
			continue
		}
		switch attr.Type.Kind {
		case profile.KindInt:
			t.seq++
			rec[name] = t.seq
		case profile.KindStr:
			rec[name] = s.newID()
		default:
			return nil, &backend.Error{Op: "insert", Entity: entity,
				Err: fmt.Errorf("cannot generate %s key %q", attr.Type.Kind, name)}
		}
	}

	key, err := keyOf(t.entity, rec)
	if err != nil {
		return nil, &backend.Error{Op: "insert", Entity: entity, Err: err}
	}
	ks := keyString(key)
	if _, exists := t.rows[ks]; exists {
		return nil, &backend.Error{Op: "insert", Entity: entity,
			Err: fmt.Errorf("duplicate key %v", key)}
	}
	t.rows[ks] = rec
	t.order = append(t.order, ks)
	return key, nil
}

func (s *Store) Select(entity string, masks []filtermask.FilterMask) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(t.order))
	for _, ks := range t.order {
		out = append(out, t.rows[ks])
	}
	out = filtermask.Filter(out, masks)
	for i, rec := range out {
		out[i] = record.Clone(rec)
	}
	return out, nil
}

func (s *Store) Update(entity string, key any, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return err
	}
	row, ok := t.rows[keyString(key)]
	if !ok {
		return &backend.Error{Op: "update", Entity: entity,
			Err: fmt.Errorf("no record under key %v", key)}
	}
	for k, v := range record.Clone(patch) {
		row[k] = v
	}
	return nil
}

func (s *Store) Delete(entity string, key any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return err
	}
	ks := keyString(key)
	if _, ok := t.rows[ks]; !ok {
		return &backend.Error{Op: "delete", Entity: entity,
			Err: fmt.Errorf("no record under key %v", key)}
	}
	delete(t.rows, ks)
	for i, existing := range t.order {
		if existing == ks {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) table(entity string) (*table, error) {
	t, ok := s.tables[entity]
	if !ok {
		return nil, &backend.Error{Op: "lookup", Entity: entity,
			Err: fmt.Errorf("entity not set up")}
	}
	return t, nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// keyOf extracts the key value from a full record: the scalar for a
// single-attribute key, map for composite keys.
func keyOf(entity *profile.Entity, rec map[string]any) (any, error) {
	keys := entity.Keys()
	if len(keys) == 1 {
		v, ok := rec[keys[0]]
		if !ok || v == nil {
			return nil, fmt.Errorf("record misses key attribute %q", keys[0])
		}
		return v, nil
	}
	composite := make(map[string]any, len(keys))
	for _, name := range keys {
		v, ok := rec[name]
		if !ok || v == nil {
			return nil, fmt.Errorf("record misses key attribute %q", name)
		}
		composite[name] = v
	}
	return composite, nil
}

// keyString canonicalizes a key value for map lookup. Numeric types
// normalize through int64/float so JSON-decoded float64 keys hit rows
// inserted with int keys.
func keyString(key any) string {
	switch t := key.(type) {
	case map[string]any:
		// composite: fixed attribute order is the caller's duty, so we
		// sort pairs lexicographically for a canonical form
		return compositeString(t)
	default:
		return scalarString(key)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return floatString(float64(t))
	case float64:
		return floatString(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func floatString(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func compositeString(m map[string]any) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+scalarString(v))
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j] < pairs[j-1]; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	out := ""
	for i, p := range pairs {
		if i > 0 {
			out += "|"
		}
		out += p
	}
	return out
}
