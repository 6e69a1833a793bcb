// Package view materializes the declared presentation projections:
// a view fetches its root entity with the configured filters and
// linkages, sorts records into content blocks by their validations, and
// renders the info panel from the first record.
package view

import (
	"fmt"

	"github.com/rs/zerolog"

	"shrike/internal/filtermask"
	"shrike/internal/funcs"
	"shrike/internal/physical"
	"shrike/internal/profile"
	"shrike/internal/record"
)

// UnknownViewError is raised for view names the active set lacks.
type UnknownViewError struct {
	View string
}

func (e *UnknownViewError) Error() string {
	return fmt.Sprintf("unknown view %q", e.View)
}

// UnknownTopicError is raised for topic names a view does not declare.
type UnknownTopicError struct {
	View  string
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("view %q has no topic %q", e.View, e.Topic)
}

// BlockRendering is one rendered content block, in declared order.
// Table blocks fill Headers/TagColumns/Rows, cover blocks fill
// Resolution/Columns/Items.
type BlockRendering struct {
	Type       string   `json:"type"`
	Headers    []string `json:"headers,omitempty"`
	TagColumns []string `json:"tag_columns,omitempty"`
	Rows       [][]any  `json:"rows,omitempty"`

	Resolution string `json:"resolution,omitempty"`
	Columns    int    `json:"columns,omitempty"`
	Items      []any  `json:"items,omitempty"`
}

// InfoRendering is one rendered info panel field.
type InfoRendering struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Rendering is a fully materialized view.
type Rendering struct {
	View       string            `json:"view"`
	Topic      string            `json:"topic,omitempty"`
	Navigation []any             `json:"navigation,omitempty"`
	Content    []*BlockRendering `json:"content"`
	Info       []InfoRendering   `json:"info,omitempty"`
}

// Materializer renders views over the routing layer.
type Materializer struct {
	phys *physical.Interface
	reg  *funcs.Registry
	log  zerolog.Logger
}

// New builds a materializer on the given access stack.
func New(phys *physical.Interface, registry *funcs.Registry, logger zerolog.Logger) *Materializer {
	return &Materializer{phys: phys, reg: registry, log: logger}
}

// Render materializes a view, optionally narrowed to one of its topics.
// The token authorizes both the view itself and the underlying entities.
func (m *Materializer) Render(viewName, topic, token string) (*Rendering, error) {
	set := m.phys.Set()
	v, ok := set.Views[viewName]
	if !ok {
		return nil, &UnknownViewError{View: viewName}
	}
	if v.Authorize != "" && physical.AuthorizationToken(token) != v.Authorize {
		return nil, &physical.AuthorizationError{Entity: viewName}
	}

	masks := append([]filtermask.FilterMask(nil), v.Filters[v.Root]...)
	var topicPaths []string
	if topic != "" {
		tm, ok := v.Topics[topic]
		if !ok {
			return nil, &UnknownTopicError{View: viewName, Topic: topic}
		}
		masks = append(masks, tm)
		topicPaths = tm.Paths()
	}

	linkageFilters := map[string][]filtermask.FilterMask{}
	for _, name := range v.Linkages {
		if fm, ok := v.Filters[name]; ok {
			linkageFilters[name] = fm
		}
	}

	recs, err := m.phys.Read(v.Root, masks, physical.Options{
		Authorization:  token,
		Linkages:       v.Linkages,
		LinkageFilters: linkageFilters,
	})
	if err != nil {
		return nil, err
	}

	out := &Rendering{View: viewName, Topic: topic}

	if ref := v.Representation.Navigation; ref != "" {
		fn, err := m.reg.Func(ref)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out.Navigation = append(out.Navigation, fn(rec))
		}
	}

	blocks, err := m.compileBlocks(v)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		out.Content = append(out.Content, b.rendering)
	}

	// каждая запись попадает в первый блок, чья validation её принимает
	for _, rec := range recs {
		for _, b := range blocks {
			if !b.validate(rec, topicPaths) {
				continue
			}
			b.add(rec)
			break
		}
	}

	if len(recs) > 0 {
		info, err := m.renderInfo(v, recs[0])
		if err != nil {
			return nil, err
		}
		out.Info = info
	}
	return out, nil
}

type compiledBlock struct {
	spec      *profile.ContentBlock
	rendering *BlockRendering
	validate  funcs.Validator
	transform funcs.Func
}

func (b *compiledBlock) add(rec map[string]any) {
	v := b.transform(rec)
	if b.spec.Type == "table" {
		row, ok := v.([]any)
		if !ok {
			row = []any{v}
		}
		b.rendering.Rows = append(b.rendering.Rows, row)
		return
	}
	b.rendering.Items = append(b.rendering.Items, v)
}

func (m *Materializer) compileBlocks(v *profile.View) ([]*compiledBlock, error) {
	blocks := make([]*compiledBlock, 0, len(v.Representation.Content))
	for _, spec := range v.Representation.Content {
		b := &compiledBlock{
			spec: spec,
			rendering: &BlockRendering{
				Type:       spec.Type,
				Headers:    spec.Headers,
				TagColumns: spec.TagColumns,
				Resolution: spec.Resolution,
				Columns:    spec.Columns,
			},
			validate: func(map[string]any, []string) bool { return true },
		}
		if spec.Validation != "" {
			fn, err := m.reg.Validator(spec.Validation)
			if err != nil {
				return nil, fmt.Errorf("view %q: %w", v.Name, err)
			}
			b.validate = fn
		}
		if spec.Transformation != "" {
			fn, err := m.reg.Func(spec.Transformation)
			if err != nil {
				return nil, fmt.Errorf("view %q: %w", v.Name, err)
			}
			b.transform = fn
		} else {
			b.transform = func(rec map[string]any) any { return rec }
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// renderInfo fills the info panel from one record. Label fields take the
// first value along the path; tags and images fan out over linked record
// lists and collect every value.
func (m *Materializer) renderInfo(v *profile.View, rec map[string]any) ([]InfoRendering, error) {
	out := make([]InfoRendering, 0, len(v.Representation.Info))
	for _, f := range v.Representation.Info {
		r := InfoRendering{Title: f.Title, Type: f.Type}
		switch {
		case f.Transformation != "":
			fn, err := m.reg.Func(f.Transformation)
			if err != nil {
				return nil, fmt.Errorf("view %q info %q: %w", v.Name, f.Title, err)
			}
			// field_path narrows the record before the transformation
			// sees it; an empty path hands over the whole record
			if len(f.FieldPath) == 0 {
				r.Value = fn(rec)
				break
			}
			staged := map[string]any{}
			if f.Type == profile.RenderTags || f.Type == profile.RenderImages {
				record.Set(staged, f.FieldPath, collect(rec, f.FieldPath))
			} else if val, ok := record.Extract(rec, f.FieldPath); ok {
				record.Set(staged, f.FieldPath, val)
			}
			r.Value = fn(staged)
		case f.Type == profile.RenderTags || f.Type == profile.RenderImages:
			r.Value = collect(rec, f.FieldPath)
		default:
			r.Value, _ = record.Extract(rec, f.FieldPath)
		}
		out = append(out, r)
	}
	return out, nil
}

// collect walks a path and gathers values across list elements instead
// of stopping at the first one.
func collect(v any, path []string) []any {
	if len(path) == 0 {
		if v == nil {
			return nil
		}
		if list, ok := v.([]any); ok {
			return list
		}
		return []any{v}
	}
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[path[0]]
		if !ok {
			return nil
		}
		return collect(next, path[1:])
	case []map[string]any:
		var out []any
		for _, el := range t {
			out = append(out, collect(el, path)...)
		}
		return out
	case []any:
		var out []any
		for _, el := range t {
			out = append(out, collect(el, path)...)
		}
		return out
	default:
		return nil
	}
}
