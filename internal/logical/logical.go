// Package logical is the per-environment access layer above a backend
// adapter. It owns the gateways every operation passes through: lifecycle
// defaults, required-attribute validation, the obfuscation pair from the
// entity meta, and linkage resolution. Backends below this layer only
// ever see obfuscated values.
package logical

import (
	"fmt"

	"github.com/rs/zerolog"

	"shrike/internal/backend"
	"shrike/internal/filtermask"
	"shrike/internal/funcs"
	"shrike/internal/profile"
	"shrike/internal/record"
)

// TargetReader reads linkage target entities. The interface itself
// satisfies it; a routing layer above can substitute itself so linkages
// whose target lives in another environment still resolve.
type TargetReader interface {
	Read(entity string, masks []filtermask.FilterMask, opts ReadOptions) ([]map[string]any, error)
}

// ReadOptions selects which declared linkages to attach to read results
// and which extra masks to apply to the resolved linked records.
type ReadOptions struct {
	Linkages       []string
	LinkageFilters map[string][]filtermask.FilterMask
}

type defaultRule struct {
	attr string
	fn   funcs.Func
}

// Interface serves one environment: the entities it owns, on one adapter.
type Interface struct {
	adapter  backend.Adapter
	entities map[string]*profile.Entity
	linkages map[string]*profile.Linkage
	targets  TargetReader

	rules map[string]map[string][]defaultRule // entity -> stage -> ordered rules
	obf   map[string]funcs.Transform
	deobf map[string]funcs.Transform

	log zerolog.Logger
}

// New builds the layer for the given entities, resolving every function
// reference eagerly so malformed profiles fail at startup, and sets the
// backend up. Linkages are pruned to those whose source is owned here.
func New(adapter backend.Adapter, entities map[string]*profile.Entity,
	linkages map[string]*profile.Linkage, registry *funcs.Registry,
	logger zerolog.Logger) (*Interface, error) {

	li := &Interface{
		adapter:  adapter,
		entities: entities,
		linkages: map[string]*profile.Linkage{},
		rules:    map[string]map[string][]defaultRule{},
		obf:      map[string]funcs.Transform{},
		deobf:    map[string]funcs.Transform{},
		log:      logger,
	}
	li.targets = li

	for name, l := range linkages {
		if _, ok := entities[l.Source]; ok {
			li.linkages[name] = l
		}
	}

	for name, e := range entities {
		stages := map[string][]defaultRule{}
		for _, attr := range e.Attributes {
			for stage, ref := range map[string]string{"post": attr.Post, "patch": attr.Patch, "delete": attr.Delete} {
				if ref == "" {
					continue
				}
				fn, err := registry.Func(ref)
				if err != nil {
					return nil, fmt.Errorf("entity %q, attribute %q, %s default: %w", name, attr.Name, stage, err)
				}
				stages[stage] = append(stages[stage], defaultRule{attr: attr.Name, fn: fn})
			}
		}
		// map iteration above scrambles nothing: rules are appended per
		// stage while walking attributes in declaration order
		li.rules[name] = stages

		if ref := e.Meta.Obfuscate; ref != "" {
			fn, err := registry.Transform(ref)
			if err != nil {
				return nil, fmt.Errorf("entity %q obfuscate: %w", name, err)
			}
			li.obf[name] = fn
		}
		if ref := e.Meta.Deobfuscate; ref != "" {
			fn, err := registry.Transform(ref)
			if err != nil {
				return nil, fmt.Errorf("entity %q deobfuscate: %w", name, err)
			}
			li.deobf[name] = fn
		}
	}

	if err := adapter.Setup(entities); err != nil {
		return nil, err
	}
	return li, nil
}

// SetTargetReader substitutes the reader used for linkage targets.
func (li *Interface) SetTargetReader(r TargetReader) { li.targets = r }

// Entities returns the owned entity schemas.
func (li *Interface) Entities() map[string]*profile.Entity { return li.entities }

// Close releases the underlying adapter.
func (li *Interface) Close() error { return li.adapter.Close() }

// Create runs the insert gateway chain: post defaults in attribute
// declaration order, required validation, obfuscation, insert. The
// returned record carries the generated key and is deobfuscated again,
// so a non-inverse transform pair shows its asymmetry here on purpose.
func (li *Interface) Create(entity string, rec map[string]any) (map[string]any, error) {
	e, err := li.entity(entity)
	if err != nil {
		return nil, err
	}
	rec = record.Clone(rec)

	for _, rule := range li.rules[entity]["post"] {
		if v, ok := rec[rule.attr]; ok && v != nil {
			continue
		}
		rec[rule.attr] = rule.fn(rec)
	}

	for _, attr := range e.Attributes {
		if !attr.Required || attr.Autoincrement {
			continue
		}
		if v, ok := rec[attr.Name]; !ok || v == nil {
			return nil, &MissingRequiredAttributeError{Entity: entity, Attribute: attr.Name}
		}
	}

	stored := li.obfuscate(entity, rec)
	key, err := li.adapter.Insert(entity, stored)
	if err != nil {
		return nil, err
	}
	li.log.Debug().Str("entity", entity).Interface("key", key).Msg("created")

	li.setKey(e, stored, key)
	return li.deobfuscate(entity, stored), nil
}

// Read selects records matching the masks (obfuscated before they reach
// the backend), deobfuscates the results and attaches requested linkages.
func (li *Interface) Read(entity string, masks []filtermask.FilterMask, opts ReadOptions) ([]map[string]any, error) {
	if _, err := li.entity(entity); err != nil {
		return nil, err
	}
	recs, err := li.adapter.Select(entity, li.obfuscateMasks(entity, masks))
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		recs[i] = li.deobfuscate(entity, rec)
	}
	if err := li.attachLinkages(entity, recs, opts); err != nil {
		return nil, err
	}
	return recs, nil
}

// Update merges a partial record into the stored one: patch defaults for
// attributes the patch leaves unset, explicit-null required validation,
// obfuscation, backend update. Returns the full record after the update.
func (li *Interface) Update(entity string, key any, patch map[string]any) (map[string]any, error) {
	e, err := li.entity(entity)
	if err != nil {
		return nil, err
	}
	current, err := li.fetchByKey(entity, key)
	if err != nil {
		return nil, err
	}

	patch = record.Clone(patch)
	candidate := record.Clone(current)
	for k, v := range patch {
		candidate[k] = v
	}
	for _, rule := range li.rules[entity]["patch"] {
		if v, ok := patch[rule.attr]; ok && v != nil {
			continue
		}
		patch[rule.attr] = rule.fn(candidate)
		candidate[rule.attr] = patch[rule.attr]
	}

	for _, attr := range e.Attributes {
		if !attr.Required {
			continue
		}
		if v, ok := patch[attr.Name]; ok && v == nil {
			return nil, &MissingRequiredAttributeError{Entity: entity, Attribute: attr.Name}
		}
	}

	if err := li.adapter.Update(entity, li.obfuscateKey(entity, e, key), li.obfuscate(entity, patch)); err != nil {
		return nil, err
	}
	li.log.Debug().Str("entity", entity).Interface("key", key).Msg("updated")
	return candidate, nil
}

// Delete removes a record, or, for keep_deleted entities, applies the
// delete-stage defaults as a patch and keeps the row. Delete-stage rules
// run unconditionally so the inactive marker always lands.
func (li *Interface) Delete(entity string, key any) error {
	e, err := li.entity(entity)
	if err != nil {
		return err
	}
	if e.Meta.KeepDeleted {
		current, err := li.fetchByKey(entity, key)
		if err != nil {
			return err
		}
		patch := map[string]any{}
		for _, rule := range li.rules[entity]["delete"] {
			patch[rule.attr] = rule.fn(current)
		}
		if len(patch) == 0 {
			li.log.Warn().Str("entity", entity).Msg("keep_deleted without delete defaults; record kept unchanged")
			return nil
		}
		return li.adapter.Update(entity, li.obfuscateKey(entity, e, key), li.obfuscate(entity, patch))
	}
	if err := li.adapter.Delete(entity, li.obfuscateKey(entity, e, key)); err != nil {
		return err
	}
	li.log.Debug().Str("entity", entity).Interface("key", key).Msg("deleted")
	return nil
}

// ResolveLinkage returns the records linked to the source record, in
// target backend order, truncated to one for 1:1 cardinality.
func (li *Interface) ResolveLinkage(l *profile.Linkage, source map[string]any) ([]map[string]any, error) {
	var (
		linked []map[string]any
		err    error
	)
	switch l.Type {
	case profile.LinkageForeignKey, profile.LinkageManual:
		value, ok := source[l.SourceKey.Attribute]
		if !ok || value == nil {
			return nil, &LinkageResolutionError{Linkage: l.Name,
				Err: fmt.Errorf("source record misses attribute %q", l.SourceKey.Attribute)}
		}
		mask := filtermask.Equal(l.TargetKey.Attribute, value)
		linked, err = li.targets.Read(l.Target, []filtermask.FilterMask{mask}, ReadOptions{})
	case profile.LinkageFilterMask:
		var candidates []map[string]any
		candidates, err = li.targets.Read(l.Target, nil, ReadOptions{})
		if err == nil {
			for _, c := range candidates {
				if l.Mask.MatchesWith(c, source) {
					linked = append(linked, c)
				}
			}
		}
	default:
		return nil, &LinkageResolutionError{Linkage: l.Name,
			Err: fmt.Errorf("unsupported linkage type %q", l.Type)}
	}
	if err != nil {
		return nil, &LinkageResolutionError{Linkage: l.Name, Err: err}
	}
	if l.ToOne() && len(linked) > 1 {
		linked = linked[:1]
	}
	return linked, nil
}

// KeyFilter derives the key-lookup mask for a key value.
func (li *Interface) KeyFilter(entity string, key any) ([]filtermask.FilterMask, error) {
	e, err := li.entity(entity)
	if err != nil {
		return nil, err
	}
	return keyMasks(e, key), nil
}

func keyMasks(e *profile.Entity, key any) []filtermask.FilterMask {
	keys := e.Keys()
	if values, ok := key.(map[string]any); ok {
		masks := make([]filtermask.FilterMask, 0, len(keys))
		for _, name := range keys {
			masks = append(masks, filtermask.Equal(name, values[name]))
		}
		return masks
	}
	return []filtermask.FilterMask{filtermask.Equal(keys[0], key)}
}

func (li *Interface) attachLinkages(entity string, recs []map[string]any, opts ReadOptions) error {
	for _, name := range opts.Linkages {
		l, ok := li.linkages[name]
		if !ok || l.Source != entity {
			continue
		}
		for _, rec := range recs {
			linked, err := li.ResolveLinkage(l, rec)
			if err != nil {
				return err
			}
			linked = filtermask.Filter(linked, opts.LinkageFilters[name])
			if l.ToOne() {
				if len(linked) > 0 {
					rec[name] = linked[0]
				}
				continue
			}
			rec[name] = linked
		}
	}
	return nil
}

func (li *Interface) fetchByKey(entity string, key any) (map[string]any, error) {
	e, _ := li.entity(entity)
	masks := li.obfuscateMasks(entity, keyMasks(e, key))
	recs, err := li.adapter.Select(entity, masks)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return li.deobfuscate(entity, recs[0]), nil
}

func (li *Interface) entity(name string) (*profile.Entity, error) {
	e, ok := li.entities[name]
	if !ok {
		return nil, fmt.Errorf("entity %q is not served by this environment", name)
	}
	return e, nil
}

func (li *Interface) obfuscate(entity string, rec map[string]any) map[string]any {
	if fn, ok := li.obf[entity]; ok {
		return fn(rec)
	}
	return rec
}

func (li *Interface) deobfuscate(entity string, rec map[string]any) map[string]any {
	if fn, ok := li.deobf[entity]; ok {
		return fn(rec)
	}
	return rec
}

// obfuscateMasks clones and transforms caller masks so their literals
// compare against stored (obfuscated) values. Relative masks pass
// through untouched.
func (li *Interface) obfuscateMasks(entity string, masks []filtermask.FilterMask) []filtermask.FilterMask {
	fn, ok := li.obf[entity]
	if !ok || len(masks) == 0 {
		return masks
	}
	out := make([]filtermask.FilterMask, len(masks))
	for i, m := range masks {
		c := m.Clone()
		c.Transform(fn)
		out[i] = c
	}
	return out
}

// obfuscateKey transforms a key value the way the key attribute's stored
// form was transformed, so lookups hit the stored row.
func (li *Interface) obfuscateKey(entity string, e *profile.Entity, key any) any {
	fn, ok := li.obf[entity]
	if !ok {
		return key
	}
	keys := e.Keys()
	if values, isMap := key.(map[string]any); isMap {
		out := fn(record.Clone(values))
		return out
	}
	staged := fn(map[string]any{keys[0]: key})
	if v, ok := staged[keys[0]]; ok {
		return v
	}
	return key
}

func (li *Interface) setKey(e *profile.Entity, rec map[string]any, key any) {
	if values, ok := key.(map[string]any); ok {
		for k, v := range values {
			rec[k] = v
		}
		return
	}
	rec[e.Keys()[0]] = key
}
