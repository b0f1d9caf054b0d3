package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	doc := map[string]any{
		"zebra":  "last",
		"alpha":  "first",
		"middle": "between",
	}

	out, err := MarshalCanonical(doc)
	require.NoError(t, err)

	assert.Equal(t, `{"alpha":"first","middle":"between","zebra":"last"}`, string(out))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	doc := map[string]any{
		"manifestId": "bls_employment_stats",
		"version":    "1.0.0",
		"steps": []any{
			map[string]any{"component": "csv_parser", "version": "1.0.0"},
		},
	}

	out1, err := MarshalCanonical(doc)
	require.NoError(t, err)
	out2, err := MarshalCanonical(doc)
	require.NoError(t, err)

	assert.Equal(t, out1, out2, "canonical marshal must be deterministic")
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	doc := map[string]any{"expr": "a < b && c > d"}

	out, err := MarshalCanonical(doc)
	require.NoError(t, err)

	assert.Equal(t, `{"expr":"a < b && c > d"}`, string(out))
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 730, "730"},
		{"int64", int64(42), "42"},
		{"integral float", float64(730), "730"},
		{"fractional float", 0.95, "0.95"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestMarshalCanonicalNull(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"optional": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"optional":null}`, string(out))
}

func TestMarshalCanonicalNestedArrays(t *testing.T) {
	doc := map[string]any{
		"primary": []any{"sem_a", "sem_b"},
		"nested":  map[string]any{"b": true, "a": false},
	}

	out, err := MarshalCanonical(doc)
	require.NoError(t, err)

	assert.Equal(t, `{"nested":{"a":false,"b":true},"primary":["sem_a","sem_b"]}`, string(out))
}

func TestMarshalCanonicalRejectsUnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestCompareKeysRFC8785SurrogateOrdering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting at 0xD800, which
	// sorts BEFORE U+FF61 in UTF-16 code units but after in UTF-8.
	assert.Equal(t, -1, compareKeysRFC8785("\U00010000", "｡"))
	assert.Equal(t, 1, compareKeysRFC8785("｡", "\U00010000"))
	assert.Equal(t, 0, compareKeysRFC8785("same", "same"))
}

func TestCompareKeysRFC8785PrefixOrdering(t *testing.T) {
	assert.Equal(t, -1, compareKeysRFC8785("abc", "abcd"))
	assert.Equal(t, 1, compareKeysRFC8785("abcd", "abc"))
}
