package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.ElementsMatch(t, []string{"a"}, schema["required"])
	assert.Equal(t, "string", props["a"].(map[string]any)["type"])
	assert.Equal(t, []string{"integer", "null"}, props["b"].(map[string]any)["type"])

	assert.NoError(t, ValidateParameters(map[string]any{"a": "x", "b": nil}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"a": nil}, schema))
}

func TestValidateParameters_Null(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"path":  map[string]any{"type": "string"},
			"limit": map[string]any{"type": []any{"integer", "null"}},
			"any":   map[string]any{"description": "untyped"},
		},
		"required": []any{"path"},
	}

	var vErr *ValidationError
	err := ValidateParameters(map[string]any{"path": nil}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "path", vErr.Field)
	assert.Equal(t, "required field is missing", vErr.Message)

	err = ValidateParameters(map[string]any{"path": "a", "limit": "ten"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "expected type integer or null, got string", vErr.Message)

	assert.NoError(t, ValidateParameters(map[string]any{"path": "a", "limit": nil, "any": nil}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"path": "a", "limit": 3.0}, schema))

	optional := map[string]any{"properties": map[string]any{"path": map[string]any{"type": "string"}}}
	err = ValidateParameters(map[string]any{"path": nil}, optional)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "expected type string, got null", vErr.Message)
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer"},
			"mode": map[string]any{"type": "string", "enum": []string{"fast", "slow"}},
		},
		"required": []string{"x"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"x": 5.0}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")

	err = ValidateParameters(map[string]any{"x": 1.0, "mode": "medium"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)
}

func TestValidateParameters_JSONDecodedRequired(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"path": "/tmp/a.txt"}, schema))
}

func TestRenderInstructions(t *testing.T) {
	out, err := RenderInstructions("plain {text}", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain {text}", out)

	out, err = RenderInstructions("session {{.session_id}} <{{upper .user}}>", map[string]any{"session_id": "s1", "user": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "session s1 <ADA>", out)

	out, err = RenderInstructions(`{{default "anonymous" .user}} reads {{join ", " .files}}`, map[string]any{"files": []any{"a.go", "b.go"}})
	require.NoError(t, err)
	assert.Equal(t, "anonymous reads a.go, b.go", out)

	out, err = RenderInstructions("branch {{.branch}}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "branch <no value>", out)

	_, err = RenderInstructions("{{.user", nil)
	assert.ErrorContains(t, err, "parse instructions")

	_, err = RenderInstructions("{{upper .n}}", map[string]any{"n": 3})
	assert.ErrorContains(t, err, "execute instructions")
}
