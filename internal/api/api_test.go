package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "shrike/internal/backend/memory"
	"shrike/internal/funcs"
	"shrike/internal/physical"
	"shrike/internal/profile"
	"shrike/internal/view"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const vaultPassword = "letmein"

func testSet(t *testing.T) *profile.Set {
	t.Helper()
	entities, err := profile.ParseEntities([]byte(fmt.Sprintf(`{
	  "media": {
	    "#meta": {"keep_deleted": true},
	    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
	    "title": {"type": "str_120", "required": true},
	    "type": {"type": "str_60"},
	    "status": {"type": "str_60", "post": "const:unknown"},
	    "inactive": {"type": "bool", "post": "const:false", "delete": "const:true"}
	  },
	  "tag": {
	    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
	    "media_id": {"type": "int", "required": true},
	    "name": {"type": "str_60", "required": true}
	  },
	  "vault": {
	    "#meta": {"authorize": "%s"},
	    "id": {"type": "int", "key": true, "autoincrement": true, "required": true},
	    "note": {"type": "str_255", "required": true}
	  }
	}`, physical.AuthorizationToken(vaultPassword))))
	require.NoError(t, err)

	linkages, err := profile.ParseLinkages([]byte(`{
	  "tagged_with": {
	    "source": "media", "target": "tag", "relation": "1:n", "linkage_type": "manual",
	    "source_key": ["media", "id"], "target_key": ["tag", "media_id"]
	  }
	}`))
	require.NoError(t, err)

	views, err := profile.ParseViews([]byte(`{
	  "MEDIA": {
	    "root": "media",
	    "linkages": ["tagged_with"],
	    "filters": {"media": [["inactive", "!=", true]]},
	    "topics": {"movies": [["type", "==", "movie"]]},
	    "representation": {
	      "content": [
	        {
	          "type": "table",
	          "validation": "always",
	          "transformation": "row:title,status",
	          "structure": {"headers": ["Title", "Status"]}
	        }
	      ],
	      "info": {"Title": {"field_path": "title"}}
	    }
	  }
	}`))
	require.NoError(t, err)

	envs, err := profile.ParseEnvironments([]byte(`[{"framework": "memory", "targets": "*"}]`))
	require.NoError(t, err)

	set := &profile.Set{Environments: envs, Entities: entities, Linkages: linkages, Views: views}
	require.NoError(t, set.Validate())
	return set
}

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	reg := funcs.NewRegistry()
	pi, err := physical.New(testSet(t), reg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pi.Close() })

	return NewRouter(Deps{
		Phys:    pi,
		Views:   view.New(pi, reg, zerolog.Nop()),
		LoadSet: func() (*profile.Set, error) { return testSet(t), nil },
		Log:     zerolog.Nop(),
	})
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestCreateAndGet(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodPost, "/api/entities/media", map[string]any{"title": "Alien", "type": "movie"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	decode(t, w, &created)
	assert.Equal(t, float64(1), created["id"])
	assert.Equal(t, "unknown", created["status"])

	w = do(t, r, http.MethodGet, "/api/entities/media/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	decode(t, w, &got)
	assert.Equal(t, "Alien", got["title"])

	w = do(t, r, http.MethodGet, "/api/entities/media/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateValidation(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodPost, "/api/entities/media", map[string]any{"type": "movie"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, r, http.MethodPost, "/api/entities/ghost", map[string]any{"x": 1}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListWithQueryFilters(t *testing.T) {
	r := newServer(t)
	for _, m := range []map[string]any{
		{"title": "Alien", "type": "movie"},
		{"title": "Brazil", "type": "movie"},
		{"title": "Cosmos", "type": "series"},
	} {
		w := do(t, r, http.MethodPost, "/api/entities/media", m, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodGet, "/api/entities/media?type=movie", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []map[string]any
	decode(t, w, &recs)
	assert.Len(t, recs, 2)
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))

	w = do(t, r, http.MethodGet, "/api/entities/media?type__ne=movie", nil, nil)
	decode(t, w, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cosmos", recs[0]["title"])

	w = do(t, r, http.MethodGet, "/api/entities/media?title__in=Alien,Cosmos", nil, nil)
	decode(t, w, &recs)
	assert.Len(t, recs, 2)

	w = do(t, r, http.MethodGet, "/api/entities/media?_limit=1&_offset=1", nil, nil)
	decode(t, w, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "Brazil", recs[0]["title"])

	w = do(t, r, http.MethodGet, "/api/entities/media?title__regex=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkages(t *testing.T) {
	r := newServer(t)
	w := do(t, r, http.MethodPost, "/api/entities/media", map[string]any{"title": "Alien"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	for _, name := range []string{"scifi", "horror"} {
		w = do(t, r, http.MethodPost, "/api/entities/tag", map[string]any{"media_id": 1, "name": name}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/entities/media?_linkages=tagged_with", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []map[string]any
	decode(t, w, &recs)
	require.Len(t, recs, 1)
	tags, ok := recs[0]["tagged_with"].([]any)
	require.True(t, ok)
	assert.Len(t, tags, 2)

	w = do(t, r, http.MethodGet, "/api/entities/media/1/linkages/tagged_with", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var linked []map[string]any
	decode(t, w, &linked)
	require.Len(t, linked, 2)
	assert.Equal(t, "scifi", linked[0]["name"])

	w = do(t, r, http.MethodGet, "/api/entities/media/1/linkages/no_such", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatchAndSoftDelete(t *testing.T) {
	r := newServer(t)
	w := do(t, r, http.MethodPost, "/api/entities/media", map[string]any{"title": "Alien"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPatch, "/api/entities/media/1", map[string]any{"status": "watched"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var updated map[string]any
	decode(t, w, &updated)
	assert.Equal(t, "watched", updated["status"])

	w = do(t, r, http.MethodDelete, "/api/entities/media/1", nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// keep_deleted: запись остаётся, но помечена
	w = do(t, r, http.MethodGet, "/api/entities/media/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	decode(t, w, &got)
	assert.Equal(t, true, got["inactive"])
}

func TestAuthorization(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodPost, "/api/entities/vault", map[string]any{"note": "secret"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// заголовок несёт пароль, хеширование — на сервере
	w = do(t, r, http.MethodPost, "/api/entities/vault", map[string]any{"note": "secret"},
		map[string]string{"X-Access-Token": vaultPassword})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodGet, "/api/entities/vault", nil,
		map[string]string{"X-Access-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, "/api/entities/vault", nil,
		map[string]string{"X-Access-Token": physical.AuthorizationToken(vaultPassword)})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBulkCreate(t *testing.T) {
	r := newServer(t)
	w := do(t, r, http.MethodPost, "/api/entities/media/_bulk", []map[string]any{
		{"title": "Alien"}, {"title": "Akira"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var out map[string]any
	decode(t, w, &out)
	assert.Equal(t, float64(2), out["count"])
}

func TestViewEndpoint(t *testing.T) {
	r := newServer(t)
	for _, m := range []map[string]any{
		{"title": "Alien", "type": "movie"},
		{"title": "Cosmos", "type": "series"},
	} {
		w := do(t, r, http.MethodPost, "/api/entities/media", m, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodGet, "/api/views/MEDIA", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rendering map[string]any
	decode(t, w, &rendering)
	content := rendering["content"].([]any)
	table := content[0].(map[string]any)
	assert.Len(t, table["rows"], 2)

	w = do(t, r, http.MethodGet, "/api/views/MEDIA?topic=movies", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rendering)
	table = rendering["content"].([]any)[0].(map[string]any)
	assert.Len(t, table["rows"], 1)

	w = do(t, r, http.MethodGet, "/api/views/GHOST", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetaEndpoints(t *testing.T) {
	r := newServer(t)

	w := do(t, r, http.MethodGet, "/api/meta/entities", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entities map[string][]string
	decode(t, w, &entities)
	assert.Equal(t, []string{"media", "tag", "vault"}, entities["entities"])

	w = do(t, r, http.MethodGet, "/api/meta/entities/media", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entity map[string]any
	decode(t, w, &entity)
	assert.Equal(t, true, entity["keep_deleted"])
	assert.Len(t, entity["attributes"], 5)

	w = do(t, r, http.MethodGet, "/api/meta/linkages", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/meta/views", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/meta/frameworks", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fw map[string][]string
	decode(t, w, &fw)
	assert.Contains(t, fw["frameworks"], "memory")
}

func TestAdminReload(t *testing.T) {
	r := newServer(t)
	w := do(t, r, http.MethodPost, "/api/entities/media", map[string]any{"title": "Alien"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/api/admin/reload", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// свежие адаптеры — данных нет, маршруты живы
	w = do(t, r, http.MethodGet, "/api/entities/media", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []map[string]any
	decode(t, w, &recs)
	assert.Empty(t, recs)
}
