package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": true, "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":1,"c":null}`, string(got))
}

func TestMarshalCanonical_UTF16Order(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800...) and sorts before U+E000.
	got, err := MarshalCanonical(map[string]int{"\ue000": 1, "\U00010000": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\ue000\":1}", string(got))
}

func TestMarshalCanonical_NFCAndNoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("Re\u0301my <a&b>")
	require.NoError(t, err)
	assert.Equal(t, "\"R\u00e9my <a&b>\"", string(got))
}

func TestMarshalCanonical_Escapes(t *testing.T) {
	got, err := MarshalCanonical("a\"b\\c\nd\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd\u0001"`, string(got))
}

func TestMarshalCanonical_Record(t *testing.T) {
	r := Record{ID: "x", SyncTarget: "telepathy", Notes: []Note{{Text: "hi"}}}
	got, err := MarshalCanonical(r)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x","notes":[{"text":"hi"}],"sync_target":"telepathy"}`, string(got))
}
