package pg

import (
	"fmt"
	"sort"
	"strings"

	"shrike/internal/profile"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// элементарная плюрализация (достаточно для medias, tags, ...)
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

func safeSchema(schema string) string {
	if schema == "" {
		return "public"
	}
	return strings.ToLower(schema)
}

// table = plural(entity) с защитой keyword'ов
func safeTable(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

func qualified(e *profile.Entity) string {
	return sqlIdent(safeSchema(e.Meta.Schema)) + "." + sqlIdent(safeTable(e.Name))
}

// columnType maps a declared scalar type to its postgres column type.
// Autoincrement int keys become bigserial so the database hands out keys.
func columnType(a *profile.Attribute) (string, error) {
	t := a.Type
	switch t.Kind {
	case profile.KindInt:
		if a.Key && a.Autoincrement {
			return "bigserial", nil
		}
		return "bigint", nil
	case profile.KindStr:
		n := t.Length
		if n <= 0 {
			n = 60
		}
		return fmt.Sprintf("varchar(%d)", n), nil
	case profile.KindText, profile.KindLongtext:
		return "text", nil
	case profile.KindChar:
		n := t.Length
		if n <= 0 {
			n = 1
		}
		return fmt.Sprintf("char(%d)", n), nil
	case profile.KindBool:
		return "boolean", nil
	case profile.KindFloat:
		if t.Length > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Length, t.Precision), nil
		}
		return "double precision", nil
	case profile.KindDatetime:
		return "timestamp with time zone", nil
	case profile.KindDict:
		return "jsonb", nil
	case profile.KindBlob:
		return "bytea", nil
	default:
		return "", fmt.Errorf("no column type for %q", a.RawType)
	}
}

// GenerateDDL возвращает карту name -> SQL (create schema/table + индексы).
// Весь DDL idempotent: create ... if not exists.
func GenerateDDL(entities map[string]*profile.Entity) (map[string]string, error) {
	out := make(map[string]string, len(entities)+1)

	// стабильный порядок сущностей
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	seenSchemas := map[string]struct{}{}

	for _, name := range keys {
		e := entities[name]
		schema := safeSchema(e.Meta.Schema)
		tbl := safeTable(e.Name)

		if _, ok := seenSchemas[schema]; !ok && schema != "public" {
			fmt.Fprintf(&sb, "create schema if not exists %s;\n", sqlIdent(schema))
			seenSchemas[schema] = struct{}{}
		}

		var cols []string
		for _, a := range e.Attributes {
			typ, err := columnType(a)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, a.Name, err)
			}
			null := ""
			if a.Required || a.Key {
				null = " not null"
			}
			cols = append(cols, fmt.Sprintf("%s %s%s", sqlIdent(a.Name), typ, null))
		}
		pk := make([]string, 0, len(e.Keys()))
		for _, k := range e.Keys() {
			pk = append(pk, sqlIdent(k))
		}
		cols = append(cols, fmt.Sprintf("primary key (%s)", strings.Join(pk, ", ")))

		fmt.Fprintf(&sb, "create table if not exists %s.%s (\n  %s\n);\n",
			sqlIdent(schema), sqlIdent(tbl), strings.Join(cols, ",\n  "))

		for _, a := range e.Attributes {
			if a.Unique && !a.Key {
				fmt.Fprintf(&sb, "create unique index if not exists %s_%s_uq on %s.%s(%s);\n",
					strings.ToLower(e.Name), strings.ToLower(a.Name),
					sqlIdent(schema), sqlIdent(tbl), sqlIdent(a.Name))
			}
		}
	}

	out["000_schemas_and_tables"] = sb.String()
	return out, nil
}
