package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonaRegistry(t *testing.T) {
	registry, err := NewPersonaRegistry([]Persona{
		{ID: "sales-analyst", SystemPrompt: "You analyze sales data.", DefaultModel: "gpt-4", AllowedModels: []string{"gpt-4", "llama-3"}},
		{ID: "open-assistant", SystemPrompt: "You help with anything."},
	})
	require.NoError(t, err)

	t.Run("Should permit only listed models when a list is set", func(t *testing.T) {
		persona, ok := registry.Lookup("sales-analyst")
		require.True(t, ok)
		assert.True(t, persona.Allows("gpt-4"))
		assert.True(t, persona.Allows("llama-3"))
		assert.False(t, persona.Allows("claude-3"))
	})

	t.Run("Should permit every model when the list is empty", func(t *testing.T) {
		persona, ok := registry.Lookup("open-assistant")
		require.True(t, ok)
		assert.True(t, persona.Allows("gpt-4"))
		assert.True(t, persona.Allows("claude-3"))
	})

	t.Run("Should always permit the noop model", func(t *testing.T) {
		persona, ok := registry.Lookup("sales-analyst")
		require.True(t, ok)
		assert.True(t, persona.Allows(NoopModelID))
	})

	t.Run("Should miss unknown personas", func(t *testing.T) {
		_, ok := registry.Lookup("ghost")
		assert.False(t, ok)
	})

	t.Run("Should reject duplicate persona ids", func(t *testing.T) {
		_, err := NewPersonaRegistry([]Persona{{ID: "dup"}, {ID: "dup"}})
		assert.Error(t, err)
	})

	t.Run("Should reject personas without an id", func(t *testing.T) {
		_, err := NewPersonaRegistry([]Persona{{SystemPrompt: "anonymous"}})
		assert.Error(t, err)
	})
}

func TestLoadPersonas(t *testing.T) {
	t.Run("Should load personas from yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "personas.yaml")
		content := `
personas:
  - id: sales-analyst
    system_prompt: You analyze sales data.
    default_model: gpt-4
    allowed_models: [gpt-4, llama-3]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		registry, err := LoadPersonas(path)
		require.NoError(t, err)
		persona, ok := registry.Lookup("sales-analyst")
		require.True(t, ok)
		assert.Equal(t, "gpt-4", persona.DefaultModel)
		assert.False(t, persona.Allows("claude-3"))
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := LoadPersonas(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
