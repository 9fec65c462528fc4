package jsonc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnmarshalToleratesCommentsAndTrailingCommas(t *testing.T) {
	input := []byte(`{
  // provider catalogue
  "version": "1", /* inline */
  "items": ["a", "b",],
}`)
	var out struct {
		Version string   `json:"version"`
		Items   []string `json:"items"`
	}
	err := Unmarshal(input, &out)
	assert.NoError(t, err)
	assert.Equal(t, "1", out.Version)
	assert.Equal(t, []string{"a", "b"}, out.Items)
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	var out map[string]any
	assert.Error(t, Unmarshal([]byte(`{"unterminated`), &out))
}

func TestStandardizePassesStrictJSONThrough(t *testing.T) {
	std, err := Standardize([]byte(`{"ok":true}`))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(std))
}
