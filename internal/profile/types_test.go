package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveType(t *testing.T) {
	cases := []struct {
		token string
		want  ScalarType
	}{
		{"int", ScalarType{Kind: KindInt}},
		{"str", ScalarType{Kind: KindStr}},
		{"str_120", ScalarType{Kind: KindStr, Length: 120}},
		{"float_3_1", ScalarType{Kind: KindFloat, Length: 3, Precision: 1}},
		{"char_4", ScalarType{Kind: KindChar, Length: 4}},
		{"longtext", ScalarType{Kind: KindLongtext}},
		{"datetime", ScalarType{Kind: KindDatetime}},
		{"dict", ScalarType{Kind: KindDict}},
		{"blob", ScalarType{Kind: KindBlob}},
		{"bool", ScalarType{Kind: KindBool}},
		{"text", ScalarType{Kind: KindText}},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			got, err := ResolveType(tc.token)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveTypeUnknown(t *testing.T) {
	for _, token := range []string{"varchar", "str_x", "float_3_1_2", "uuid", ""} {
		t.Run(token, func(t *testing.T) {
			_, err := ResolveType(token)
			var ute *UnknownTypeError
			require.ErrorAs(t, err, &ute)
			assert.Equal(t, token, ute.Token)
		})
	}
}

func TestResolveTypeCaches(t *testing.T) {
	first, err := ResolveType("str_99")
	require.NoError(t, err)
	second, err := ResolveType("str_99")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	_, cached := typeCache.Load("str_99")
	assert.True(t, cached)
}
