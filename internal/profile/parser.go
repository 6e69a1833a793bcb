package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"shrike/internal/filtermask"
)

// Profile documents are accepted as JSON or YAML (JSON is valid YAML).
// Entity documents are parsed through the yaml Node API so attribute
// declaration order survives; lifecycle defaults are applied in exactly
// that order.

var profileExts = []string{".json", ".yaml", ".yml"}

func findDocument(dir, base string) (string, bool) {
	for _, ext := range profileExts {
		path := filepath.Join(dir, base+ext)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load reads the four profile documents (environment, entities, linkages,
// views) from a directory and returns the validated registry set.
// Linkage and view documents are optional.
func Load(dir string) (*Set, error) {
	set := &Set{
		Entities: map[string]*Entity{},
		Linkages: map[string]*Linkage{},
		Views:    map[string]*View{},
	}

	path, ok := findDocument(dir, "environment")
	if !ok {
		path, ok = findDocument(dir, "environments")
	}
	if !ok {
		return nil, fmt.Errorf("profile directory %s: no environment document", dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if set.Environments, err = ParseEnvironments(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	path, ok = findDocument(dir, "entities")
	if !ok {
		return nil, fmt.Errorf("profile directory %s: no entities document", dir)
	}
	if data, err = os.ReadFile(path); err != nil {
		return nil, err
	}
	if set.Entities, err = ParseEntities(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if path, ok = findDocument(dir, "linkages"); ok {
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
		if set.Linkages, err = ParseLinkages(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if path, ok = findDocument(dir, "views"); ok {
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
		if set.Views, err = ParseViews(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

type environmentDoc struct {
	Backend   string         `yaml:"backend"`
	Framework string         `yaml:"framework"`
	Arguments map[string]any `yaml:"arguments"`
	Targets   yaml.Node      `yaml:"targets"`
}

// ParseEnvironments parses the environment document: a list of backend
// bindings. Targets is either the wildcard "*" or a list of entity names.
func ParseEnvironments(data []byte) ([]*Environment, error) {
	var docs []environmentDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("environment document declares no environments")
	}
	out := make([]*Environment, 0, len(docs))
	for i, doc := range docs {
		if doc.Framework == "" {
			return nil, fmt.Errorf("environment %d: missing framework identifier", i)
		}
		env := &Environment{
			Backend:   doc.Backend,
			Framework: doc.Framework,
			Arguments: doc.Arguments,
		}
		switch doc.Targets.Kind {
		case 0: // absent -> wildcard
		case yaml.ScalarNode:
			if doc.Targets.Value != "*" {
				env.Targets = []string{doc.Targets.Value}
			}
		case yaml.SequenceNode:
			if err := doc.Targets.Decode(&env.Targets); err != nil {
				return nil, fmt.Errorf("environment %d: targets: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("environment %d: targets must be \"*\" or a list", i)
		}
		out = append(out, env)
	}
	return out, nil
}

type metaDoc struct {
	Description string `yaml:"description"`
	Schema      string `yaml:"schema"`
	KeepDeleted bool   `yaml:"keep_deleted"`
	Authorize   string `yaml:"authorize"`
	Obfuscate   string `yaml:"obfuscate"`
	Deobfuscate string `yaml:"deobfuscate"`
}

type attributeDoc struct {
	Type          string `yaml:"type"`
	Description   string `yaml:"description"`
	Key           bool   `yaml:"key"`
	Autoincrement bool   `yaml:"autoincrement"`
	Required      bool   `yaml:"required"`
	Unique        bool   `yaml:"unique"`
	Post          string `yaml:"post"`
	Patch         string `yaml:"patch"`
	Delete        string `yaml:"delete"`
}

// ParseEntities parses the entity document: a mapping of entity name to
// attribute specs plus the "#meta" options block.
func ParseEntities(data []byte) (map[string]*Entity, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("entity document must be a mapping of entity name to schema")
	}
	root := doc.Content[0]

	out := map[string]*Entity{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		body := root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("entity %q: schema must be a mapping", name)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", name)
		}

		e := &Entity{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key := body.Content[j].Value
			val := body.Content[j+1]

			if key == "#meta" {
				var md metaDoc
				if err := val.Decode(&md); err != nil {
					return nil, fmt.Errorf("entity %q: #meta: %w", name, err)
				}
				e.Meta = Meta(md)
				continue
			}

			var ad attributeDoc
			if err := val.Decode(&ad); err != nil {
				return nil, fmt.Errorf("entity %q: attribute %q: %w", name, key, err)
			}
			st, err := ResolveType(ad.Type)
			if err != nil {
				return nil, fmt.Errorf("entity %q: attribute %q: %w", name, key, err)
			}
			e.Attributes = append(e.Attributes, &Attribute{
				Name:          key,
				Type:          st,
				RawType:       ad.Type,
				Description:   ad.Description,
				Key:           ad.Key,
				Autoincrement: ad.Autoincrement,
				Required:      ad.Required,
				Unique:        ad.Unique,
				Post:          ad.Post,
				Patch:         ad.Patch,
				Delete:        ad.Delete,
			})
		}
		e.index()
		out[name] = e
	}
	return out, nil
}

type maskDoc struct {
	Relative    *bool   `yaml:"relative"`
	Expressions [][]any `yaml:"expressions"`
}

type linkageDoc struct {
	Source      string   `yaml:"source"`
	Target      string   `yaml:"target"`
	Relation    string   `yaml:"relation"`
	Cardinality string   `yaml:"cardinality"`
	LinkageType string   `yaml:"linkage_type"`
	SourceKey   []string `yaml:"source_key"`
	TargetKey   []string `yaml:"target_key"`
	FilterMask  *maskDoc `yaml:"filter_mask"`
}

// ParseLinkages parses the linkage document: a mapping of linkage name to
// relationship descriptor. The cardinality may be given under "relation"
// (the historical key) or "cardinality".
func ParseLinkages(data []byte) (map[string]*Linkage, error) {
	var docs map[string]linkageDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]*Linkage, len(docs))
	for name, doc := range docs {
		l := &Linkage{
			Name:        name,
			Source:      doc.Source,
			Target:      doc.Target,
			Cardinality: doc.Relation,
			Type:        doc.LinkageType,
		}
		if l.Cardinality == "" {
			l.Cardinality = doc.Cardinality
		}
		switch l.Type {
		case LinkageForeignKey, LinkageManual:
			if len(doc.SourceKey) != 2 || len(doc.TargetKey) != 2 {
				return nil, fmt.Errorf("linkage %q: source_key and target_key must be [entity, attribute] pairs", name)
			}
			l.SourceKey = KeyRef{Entity: doc.SourceKey[0], Attribute: doc.SourceKey[1]}
			l.TargetKey = KeyRef{Entity: doc.TargetKey[0], Attribute: doc.TargetKey[1]}
		case LinkageFilterMask:
			if doc.FilterMask == nil {
				return nil, fmt.Errorf("linkage %q: filter_mask linkage without embedded mask", name)
			}
			mask, err := filtermask.Parse(doc.FilterMask.Expressions)
			if err != nil {
				return nil, fmt.Errorf("linkage %q: %w", name, err)
			}
			mask.Relative = doc.FilterMask.Relative == nil || *doc.FilterMask.Relative
			l.Mask = &mask
		default:
			return nil, fmt.Errorf("linkage %q: unknown linkage_type %q", name, doc.LinkageType)
		}
		out[name] = l
	}
	return out, nil
}

type blockStructureDoc struct {
	Headers    []string `yaml:"headers"`
	TagColumns []string `yaml:"tag_columns"`
	Resolution string   `yaml:"resolution"`
	Columns    int      `yaml:"columns"`
}

type blockDoc struct {
	Type           string            `yaml:"type"`
	Validation     string            `yaml:"validation"`
	Transformation string            `yaml:"transformation"`
	Structure      blockStructureDoc `yaml:"structure"`
}

type infoDoc struct {
	FieldPath      any    `yaml:"field_path"`
	Transformation string `yaml:"transformation"`
	Type           string `yaml:"type"`
}

type representationDoc struct {
	Navigation string     `yaml:"navigation"`
	Content    []blockDoc `yaml:"content"`
	Info       yaml.Node  `yaml:"info"`
}

type viewDoc struct {
	Root           string             `yaml:"root"`
	Linkages       []string           `yaml:"linkages"`
	Filters        map[string][][]any `yaml:"filters"`
	Authorize      string             `yaml:"authorize"`
	Topics         map[string][][]any `yaml:"topics"`
	Representation representationDoc  `yaml:"representation"`
}

// ParseViews parses the view document: a mapping of view name to view
// definition. The info block keeps its declared field order.
func ParseViews(data []byte) (map[string]*View, error) {
	var docs map[string]viewDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]*View, len(docs))
	for name, doc := range docs {
		v := &View{
			Name:      name,
			Root:      doc.Root,
			Linkages:  doc.Linkages,
			Filters:   map[string][]filtermask.FilterMask{},
			Authorize: doc.Authorize,
			Topics:    map[string]filtermask.FilterMask{},
		}
		for scope, raw := range doc.Filters {
			mask, err := filtermask.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("view %q: filter %q: %w", name, scope, err)
			}
			v.Filters[scope] = []filtermask.FilterMask{mask}
		}
		for topic, raw := range doc.Topics {
			mask, err := filtermask.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("view %q: topic %q: %w", name, topic, err)
			}
			v.Topics[topic] = mask
		}

		v.Representation.Navigation = doc.Representation.Navigation
		for _, bd := range doc.Representation.Content {
			// блок без validation и transformation опускаем целиком
			if bd.Validation == "" && bd.Transformation == "" {
				continue
			}
			if bd.Type != "table" && bd.Type != "cover" {
				return nil, fmt.Errorf("view %q: unknown content block type %q", name, bd.Type)
			}
			v.Representation.Content = append(v.Representation.Content, &ContentBlock{
				Type:           bd.Type,
				Validation:     bd.Validation,
				Transformation: bd.Transformation,
				Headers:        bd.Structure.Headers,
				TagColumns:     bd.Structure.TagColumns,
				Resolution:     bd.Structure.Resolution,
				Columns:        bd.Structure.Columns,
			})
		}

		info, err := parseInfoFields(name, doc.Representation.Info)
		if err != nil {
			return nil, err
		}
		v.Representation.Info = info
		out[name] = v
	}
	return out, nil
}

func parseInfoFields(view string, node yaml.Node) ([]*InfoField, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("view %q: info must be a mapping of field title to spec", view)
	}
	var out []*InfoField
	for i := 0; i+1 < len(node.Content); i += 2 {
		title := node.Content[i].Value
		var id infoDoc
		if err := node.Content[i+1].Decode(&id); err != nil {
			return nil, fmt.Errorf("view %q: info field %q: %w", view, title, err)
		}
		path, err := filtermask.ParsePath(id.FieldPath)
		if err != nil {
			return nil, fmt.Errorf("view %q: info field %q: %w", view, title, err)
		}
		renderType := id.Type
		if renderType == "" {
			renderType = RenderLabel
		}
		switch renderType {
		case RenderLabel, RenderTags, RenderImages:
		default:
			return nil, fmt.Errorf("view %q: info field %q: unknown render type %q", view, title, renderType)
		}
		out = append(out, &InfoField{
			Title:          title,
			FieldPath:      path,
			Transformation: id.Transformation,
			Type:           renderType,
		})
	}
	return out, nil
}

// Validate cross-checks the parsed registries: key invariants per entity,
// linkage endpoints and key references, view roots and linkage lists.
func (s *Set) Validate() error {
	for name, e := range s.Entities {
		if len(e.Keys()) == 0 {
			return fmt.Errorf("entity %q: no key attribute declared", name)
		}
		for _, a := range e.Attributes {
			if a.Autoincrement && !a.Key {
				return fmt.Errorf("entity %q: attribute %q: autoincrement applies only to key attributes", name, a.Name)
			}
			if a.Autoincrement && a.Type.Kind != KindInt && a.Type.Kind != KindStr {
				return fmt.Errorf("entity %q: attribute %q: autoincrement requires an int or str key", name, a.Name)
			}
		}
	}

	cardinalities := map[string]struct{}{
		CardinalityOneToOne: {}, CardinalityOneToMany: {}, CardinalityManyToMany: {},
	}
	for name, l := range s.Linkages {
		if _, ok := s.Entities[l.Source]; !ok {
			return fmt.Errorf("linkage %q: unknown source entity %q", name, l.Source)
		}
		if _, ok := s.Entities[l.Target]; !ok {
			return fmt.Errorf("linkage %q: unknown target entity %q", name, l.Target)
		}
		if _, ok := cardinalities[l.Cardinality]; !ok {
			return fmt.Errorf("linkage %q: unknown cardinality %q", name, l.Cardinality)
		}
		if l.Type == LinkageForeignKey || l.Type == LinkageManual {
			if l.SourceKey.Entity != l.Source || l.TargetKey.Entity != l.Target {
				return fmt.Errorf("linkage %q: key references must name the source and target entities", name)
			}
			if _, ok := s.Entities[l.Source].Attribute(l.SourceKey.Attribute); !ok {
				return fmt.Errorf("linkage %q: source entity %q has no attribute %q", name, l.Source, l.SourceKey.Attribute)
			}
			if _, ok := s.Entities[l.Target].Attribute(l.TargetKey.Attribute); !ok {
				return fmt.Errorf("linkage %q: target entity %q has no attribute %q", name, l.Target, l.TargetKey.Attribute)
			}
		}
	}

	for name, v := range s.Views {
		if _, ok := s.Entities[v.Root]; !ok {
			return fmt.Errorf("view %q: unknown root entity %q", name, v.Root)
		}
		for _, ln := range v.Linkages {
			if _, ok := s.Linkages[ln]; !ok {
				return fmt.Errorf("view %q: unknown linkage %q", name, ln)
			}
		}
	}
	return nil
}
