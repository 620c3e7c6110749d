package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultToolCatalogRegistersNoteAndFinish(t *testing.T) {
	reg := DefaultToolCatalog()

	assert.True(t, reg.Has("note"))
	assert.True(t, reg.Has("finish"))

	out, err := reg.Get("note").Execute(context.Background(), map[string]any{"text": "saw something"})
	require.NoError(t, err)
	assert.Contains(t, out, "saw something")

	out, err = reg.Get("finish").Execute(context.Background(), map[string]any{"answer": "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestToolSpecsConvertsSchemaShape(t *testing.T) {
	specs := ToolSpecs(DefaultToolCatalog())
	require.Len(t, specs, 2)

	byName := make(map[string]bool)
	for _, s := range specs {
		byName[s.Name] = true
		schema, ok := s.Schema["properties"].(map[string]any)
		require.True(t, ok, "schema must carry a properties map")
		assert.NotEmpty(t, schema)
		assert.NotEmpty(t, s.Schema["required"])
	}
	assert.True(t, byName["note"])
	assert.True(t, byName["finish"])
}
