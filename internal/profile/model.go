// Package profile parses the four configuration documents (environment,
// entity, linkage, view) into the immutable registries the access layers
// run on. A parsed Set is never mutated in place; reconfiguration builds
// a fresh Set and swaps it atomically at the physical interface.
package profile

import (
	"shrike/internal/filtermask"
)

// Environment binds a set of entities to one storage backend and its
// connection arguments. Targets lists owned entity names; "*" (or an
// empty list) makes the environment the wildcard fallback.
type Environment struct {
	Backend   string
	Framework string
	Arguments map[string]any
	Targets   []string
}

// Wildcard reports whether the environment accepts any entity.
func (e *Environment) Wildcard() bool {
	if len(e.Targets) == 0 {
		return true
	}
	for _, t := range e.Targets {
		if t == "*" {
			return true
		}
	}
	return false
}

// Owns reports an exact targets match for the entity name.
func (e *Environment) Owns(entity string) bool {
	for _, t := range e.Targets {
		if t == entity {
			return true
		}
	}
	return false
}

// Attribute is one parsed attribute of an entity schema. Post, Patch and
// Delete reference lifecycle-default functions by name; empty means no
// rule for that stage.
type Attribute struct {
	Name          string
	Type          ScalarType
	RawType       string
	Description   string
	Key           bool
	Autoincrement bool
	Required      bool
	Unique        bool
	Post          string
	Patch         string
	Delete        string
}

// Meta carries the entity-level options from the "#meta" block.
type Meta struct {
	Description string
	Schema      string
	KeepDeleted bool
	Authorize   string
	Obfuscate   string
	Deobfuscate string
}

// Entity is a parsed entity schema. Attributes keeps declaration order,
// which fixes the order lifecycle defaults are applied in.
type Entity struct {
	Name       string
	Meta       Meta
	Attributes []*Attribute

	byName map[string]*Attribute
	keys   []string
}

// Attribute looks an attribute up by name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.byName[name]
	return a, ok
}

// Keys returns the key attribute names in declaration order.
func (e *Entity) Keys() []string {
	return e.keys
}

func (e *Entity) index() {
	e.byName = make(map[string]*Attribute, len(e.Attributes))
	e.keys = e.keys[:0]
	for _, a := range e.Attributes {
		e.byName[a.Name] = a
		if a.Key {
			e.keys = append(e.keys, a.Name)
		}
	}
}

// Linkage cardinalities.
const (
	CardinalityOneToOne   = "1:1"
	CardinalityOneToMany  = "1:n"
	CardinalityManyToMany = "n:m"
)

// Linkage resolution methods.
const (
	LinkageForeignKey = "foreign_key"
	LinkageManual     = "manual"
	LinkageFilterMask = "filter_mask"
)

// KeyRef is a typed attribute reference: entity name plus attribute name.
type KeyRef struct {
	Entity    string
	Attribute string
}

// Linkage is a parsed relationship descriptor. SourceKey/TargetKey are
// set for foreign_key and manual linkages; Mask for filter_mask linkages
// (always relative: its values address source record attributes).
type Linkage struct {
	Name        string
	Source      string
	Target      string
	Cardinality string
	Type        string
	SourceKey   KeyRef
	TargetKey   KeyRef
	Mask        *filtermask.FilterMask
}

// ToOne reports whether resolution yields at most one related record.
func (l *Linkage) ToOne() bool {
	return l.Cardinality == CardinalityOneToOne
}

// ContentBlock is one table or cover block of a view representation, in
// declared priority order. Blocks are independently optional: a block
// without validation and transformation is dropped at parse time.
type ContentBlock struct {
	Type           string // "table" | "cover"
	Validation     string
	Transformation string

	// table structure
	Headers    []string
	TagColumns []string

	// cover structure
	Resolution string
	Columns    int
}

// Info render types.
const (
	RenderLabel  = "label"
	RenderTags   = "tags"
	RenderImages = "images"
)

// InfoField is one declared field of the info panel, in declaration
// order. FieldPath may cross into linked sub-records.
type InfoField struct {
	Title          string
	FieldPath      []string
	Transformation string
	Type           string
}

// Representation groups the presentation transforms of a view.
type Representation struct {
	Navigation string
	Content    []*ContentBlock
	Info       []*InfoField
}

// View is a parsed presentation projection over a root entity and its
// linkages. Filters is keyed by entity or linkage name.
type View struct {
	Name           string
	Root           string
	Linkages       []string
	Filters        map[string][]filtermask.FilterMask
	Authorize      string
	Topics         map[string]filtermask.FilterMask
	Representation Representation
}

// Set is the full parsed registry state loaded at startup.
type Set struct {
	Environments []*Environment
	Entities     map[string]*Entity
	Linkages     map[string]*Linkage
	Views        map[string]*View
}
