package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	rec := map[string]any{
		"title": "Foo",
		"meta":  map[string]any{"lang": "en"},
		"tagged_with": []map[string]any{
			{"name": "scifi"},
			{"name": "classic"},
		},
	}

	cases := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"flat", []string{"title"}, "Foo", true},
		{"nested", []string{"meta", "lang"}, "en", true},
		{"through list takes first", []string{"tagged_with", "name"}, "scifi", true},
		{"missing", []string{"nope"}, nil, false},
		{"missing nested", []string{"meta", "nope"}, nil, false},
		{"scalar dead end", []string{"title", "deeper"}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract(rec, tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSet(t *testing.T) {
	rec := map[string]any{}
	Set(rec, []string{"a", "b"}, 1)
	v, ok := Extract(rec, []string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, 1, v)

	Set(rec, []string{"a", "b"}, 2)
	v, _ = Extract(rec, []string{"a", "b"})
	assert.Equal(t, 2, v)
}

func TestCloneIsDetached(t *testing.T) {
	rec := map[string]any{
		"meta": map[string]any{"lang": "en"},
		"tags": []map[string]any{{"name": "x"}},
	}
	cp := Clone(rec)
	cp["meta"].(map[string]any)["lang"] = "de"
	cp["tags"].([]map[string]any)[0]["name"] = "y"

	assert.Equal(t, "en", rec["meta"].(map[string]any)["lang"])
	assert.Equal(t, "x", rec["tags"].([]map[string]any)[0]["name"])
}
