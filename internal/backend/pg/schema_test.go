package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shrike/internal/filtermask"
	"shrike/internal/profile"
)

func parseMask(t *testing.T, raw [][]any) []filtermask.FilterMask {
	t.Helper()
	m, err := filtermask.Parse(raw)
	require.NoError(t, err)
	return []filtermask.FilterMask{m}
}

const entitiesJSON = `{
  "media": {
    "#meta": {"schema": "app"},
    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
    "title": {"type": "str_120", "required": true, "unique": true},
    "summary": {"type": "text"},
    "rating": {"type": "float_3_1"},
    "added_at": {"type": "datetime"},
    "extras": {"type": "dict"},
    "poster": {"type": "blob"},
    "grade": {"type": "char_2"},
    "inactive": {"type": "bool"}
  },
  "user": {
    "token": {"type": "str_60", "key": true, "autoincrement": true},
    "name": {"type": "str"}
  }
}`

func TestGenerateDDL(t *testing.T) {
	entities, err := profile.ParseEntities([]byte(entitiesJSON))
	require.NoError(t, err)

	ddl, err := GenerateDDL(entities)
	require.NoError(t, err)
	sql := ddl["000_schemas_and_tables"]

	assert.Contains(t, sql, `create schema if not exists "app";`)
	assert.Contains(t, sql, `create table if not exists "app"."medias"`)
	assert.Contains(t, sql, `"id" bigserial not null`)
	assert.Contains(t, sql, `"title" varchar(120) not null`)
	assert.Contains(t, sql, `"summary" text`)
	assert.Contains(t, sql, `"rating" numeric(3,1)`)
	assert.Contains(t, sql, `"added_at" timestamp with time zone`)
	assert.Contains(t, sql, `"extras" jsonb`)
	assert.Contains(t, sql, `"poster" bytea`)
	assert.Contains(t, sql, `"grade" char(2)`)
	assert.Contains(t, sql, `"inactive" boolean`)
	assert.Contains(t, sql, `primary key ("id")`)
	assert.Contains(t, sql, `create unique index if not exists media_title_uq on "app"."medias"("title");`)

	// reserved word gets prefixed, default length applies, no explicit schema
	assert.Contains(t, sql, `create table if not exists "public"."e_users"`)
	assert.Contains(t, sql, `"token" varchar(60) not null`)
	assert.Contains(t, sql, `"name" varchar(60)`)
	assert.NotContains(t, sql, `create schema if not exists "public";`)
}

func TestCompileMasks(t *testing.T) {
	entities, err := profile.ParseEntities([]byte(entitiesJSON))
	require.NoError(t, err)
	media := entities["media"]

	t.Run("equality and in-list compile", func(t *testing.T) {
		m := parseMask(t, [][]any{
			{"title", "==", "Alien"},
			{"grade", "in", []any{"A", "B"}},
		})
		where, args, residual := compileMasks(media, m)
		assert.Equal(t, `"title" = $1 and "grade" in ($2, $3)`, where)
		assert.Equal(t, []any{"Alien", "A", "B"}, args)
		assert.Empty(t, residual)
	})

	t.Run("contains on text compiles to strpos", func(t *testing.T) {
		m := parseMask(t, [][]any{{"summary", "has", "space"}})
		where, args, residual := compileMasks(media, m)
		assert.Equal(t, `strpos("summary", $1) > 0`, where)
		assert.Equal(t, []any{"space"}, args)
		assert.Empty(t, residual)
	})

	t.Run("deep path stays residual", func(t *testing.T) {
		m := parseMask(t, [][]any{{[]any{"tagged_with", "name"}, "==", "scifi"}})
		where, args, residual := compileMasks(media, m)
		assert.Empty(t, where)
		assert.Empty(t, args)
		assert.Len(t, residual, 1)
	})

	t.Run("relative mask stays residual", func(t *testing.T) {
		m := parseMask(t, [][]any{{"title", "==", "title"}})
		m[0].Relative = true
		_, _, residual := compileMasks(media, m)
		assert.Len(t, residual, 1)
	})
}
