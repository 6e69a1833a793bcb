package view

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "shrike/internal/backend/memory"
	"shrike/internal/funcs"
	"shrike/internal/physical"
	"shrike/internal/profile"
)

const entitiesJSON = `{
  "media": {
    "#meta": {"keep_deleted": true},
    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
    "title": {"type": "str_120", "required": true},
    "type": {"type": "str_60"},
    "status": {"type": "str_60", "post": "const:unknown"},
    "poster": {"type": "str_255"},
    "inactive": {"type": "bool", "post": "const:false", "delete": "const:true"}
  },
  "tag": {
    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
    "media_id": {"type": "int", "required": true},
    "name": {"type": "str_60", "required": true}
  }
}`

const linkagesJSON = `{
  "tagged_with": {
    "source": "media", "target": "tag", "relation": "1:n", "linkage_type": "manual",
    "source_key": ["media", "id"], "target_key": ["tag", "media_id"]
  }
}`

const viewPassword = "viewpass"

var viewsJSON = fmt.Sprintf(`{
  "MEDIA": {
    "root": "media",
    "linkages": ["tagged_with"],
    "filters": {"media": [["inactive", "!=", true]]},
    "topics": {
      "movies": [["type", "==", "movie"]],
      "series": [["type", "==", "series"]]
    },
    "representation": {
      "navigation": "copy:title",
      "content": [
        {
          "type": "cover",
          "validation": "copy:poster",
          "transformation": "copy:poster",
          "structure": {"resolution": "300x450", "columns": 4}
        },
        {
          "type": "table",
          "validation": "always",
          "transformation": "row:title,status",
          "structure": {"headers": ["Title", "Status"], "tag_columns": ["Tags"]}
        }
      ],
      "info": {
        "Title": {"field_path": "title"},
        "Status": {"field_path": "status"},
        "Tags": {"field_path": ["tagged_with", "name"], "type": "tags"},
        "Upper": {"field_path": "title", "transformation": "copy:title"},
        "Leak": {"field_path": "title", "transformation": "copy:status"}
      }
    }
  },
  "VAULT": {
    "root": "media",
    "authorize": "%s",
    "representation": {
      "content": [
        {"type": "table", "transformation": "row:title", "structure": {"headers": ["Title"]}}
      ]
    }
  }
}`, physical.AuthorizationToken(viewPassword))

func newMaterializer(t *testing.T) (*Materializer, *physical.Interface) {
	t.Helper()
	entities, err := profile.ParseEntities([]byte(entitiesJSON))
	require.NoError(t, err)
	linkages, err := profile.ParseLinkages([]byte(linkagesJSON))
	require.NoError(t, err)
	views, err := profile.ParseViews([]byte(viewsJSON))
	require.NoError(t, err)
	envs, err := profile.ParseEnvironments([]byte(`[{"framework": "memory", "targets": "*"}]`))
	require.NoError(t, err)

	set := &profile.Set{Environments: envs, Entities: entities, Linkages: linkages, Views: views}
	require.NoError(t, set.Validate())

	reg := funcs.NewRegistry()
	pi, err := physical.New(set, reg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pi.Close() })
	return New(pi, reg, zerolog.Nop()), pi
}

func seed(t *testing.T, pi *physical.Interface) {
	t.Helper()
	none := physical.Options{}
	alien, err := pi.Create("media", map[string]any{"title": "Alien", "type": "movie", "poster": "alien.jpg"}, none)
	require.NoError(t, err)
	_, err = pi.Create("media", map[string]any{"title": "Brazil", "type": "movie"}, none)
	require.NoError(t, err)
	_, err = pi.Create("media", map[string]any{"title": "Cosmos", "type": "series"}, none)
	require.NoError(t, err)

	for _, name := range []string{"scifi", "horror"} {
		_, err = pi.Create("tag", map[string]any{"media_id": alien["id"], "name": name}, none)
		require.NoError(t, err)
	}

	// soft-deleted records must never enter the view
	gone, err := pi.Create("media", map[string]any{"title": "Deleted one", "type": "movie"}, none)
	require.NoError(t, err)
	require.NoError(t, pi.Delete("media", gone["id"], none))
}

func TestRenderFullView(t *testing.T) {
	m, pi := newMaterializer(t)
	seed(t, pi)

	r, err := m.Render("MEDIA", "", "")
	require.NoError(t, err)

	assert.Equal(t, []any{"Alien", "Brazil", "Cosmos"}, r.Navigation)

	require.Len(t, r.Content, 2)
	cover, table := r.Content[0], r.Content[1]

	// Alien has a poster and lands in the cover block, not the table
	assert.Equal(t, "cover", cover.Type)
	assert.Equal(t, "300x450", cover.Resolution)
	assert.Equal(t, 4, cover.Columns)
	assert.Equal(t, []any{"alien.jpg"}, cover.Items)

	assert.Equal(t, "table", table.Type)
	assert.Equal(t, []string{"Title", "Status"}, table.Headers)
	assert.Equal(t, [][]any{{"Brazil", "unknown"}, {"Cosmos", "unknown"}}, table.Rows)

	require.Len(t, r.Info, 5)
	assert.Equal(t, "Alien", r.Info[0].Value)
	assert.Equal(t, "unknown", r.Info[1].Value)
	assert.Equal(t, "Tags", r.Info[2].Title)
	assert.Equal(t, []any{"scifi", "horror"}, r.Info[2].Value)

	// трансформация видит только поле из field_path
	assert.Equal(t, "Alien", r.Info[3].Value)
	assert.Nil(t, r.Info[4].Value)
}

func TestRenderProtectedView(t *testing.T) {
	m, pi := newMaterializer(t)
	seed(t, pi)

	r, err := m.Render("VAULT", "", viewPassword)
	require.NoError(t, err)
	require.Len(t, r.Content, 1)
	assert.Len(t, r.Content[0].Rows, 3)

	var ae *physical.AuthorizationError
	_, err = m.Render("VAULT", "", "wrong")
	require.ErrorAs(t, err, &ae)

	// the token is the password itself, never its hash
	_, err = m.Render("VAULT", "", physical.AuthorizationToken(viewPassword))
	require.ErrorAs(t, err, &ae)
}

func TestRenderTopicNarrowsRecords(t *testing.T) {
	m, pi := newMaterializer(t)
	seed(t, pi)

	r, err := m.Render("MEDIA", "series", "")
	require.NoError(t, err)
	assert.Equal(t, []any{"Cosmos"}, r.Navigation)
	table := r.Content[1]
	assert.Equal(t, [][]any{{"Cosmos", "unknown"}}, table.Rows)
	assert.Equal(t, "Cosmos", r.Info[0].Value)

	_, err = m.Render("MEDIA", "no_such_topic", "")
	var ute *UnknownTopicError
	require.ErrorAs(t, err, &ute)
}

func TestRenderUnknownView(t *testing.T) {
	m, _ := newMaterializer(t)
	_, err := m.Render("GHOST", "", "")
	var uve *UnknownViewError
	require.ErrorAs(t, err, &uve)
}

func TestRenderEmptyViewHasNoInfo(t *testing.T) {
	m, _ := newMaterializer(t)
	r, err := m.Render("MEDIA", "", "")
	require.NoError(t, err)
	assert.Empty(t, r.Navigation)
	assert.Empty(t, r.Info)
	require.Len(t, r.Content, 2)
	assert.Empty(t, r.Content[1].Rows)
}
