package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	type payload struct {
		SQL    string `cbor:"sql"`
		Params []any  `cbor:"params,omitempty"`
	}
	in := payload{SQL: "SELECT ?", Params: []any{int64(42), "x", []byte{1, 2}}}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestDeterministicEncoding(t *testing.T) {
	v := map[string]any{"b": 1, "a": "two", "c": []any{true, nil}}

	first, err := Marshal(v)
	require.NoError(t, err)
	second, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnyDecodesToStringKeyedMap(t *testing.T) {
	data, err := Marshal(map[string]any{"k": "v"})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok, "any target must decode to map[string]any, got %T", out)
	assert.Equal(t, "v", m["k"])
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"known": "yes", "future_field": 7})
	require.NoError(t, err)

	var out struct {
		Known string `cbor:"known"`
	}
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "yes", out.Known)
}
