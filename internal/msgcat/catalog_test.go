package msgcat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMessages(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	s, err := c.Render("errors.not_found", nil)
	require.NoError(t, err)
	assert.Equal(t, "Game not found", s)

	s, err = c.Render("errors.unknown_event", map[string]any{"Event": "fly"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown event: fly", s)
}

func TestRenderMissingData(t *testing.T) {
	c := MustDefault()
	_, err := c.Render("errors.unknown_event", map[string]any{})
	assert.Error(t, err)
	_, err = c.Render("errors.nope", nil)
	assert.Error(t, err)
	assert.Equal(t, "fallback", c.Text("errors.nope", nil, "fallback"))
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_found: \"No such game\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	c, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, "No such game", c.Text("errors.not_found", nil, ""))
	assert.Equal(t, "Game is full", c.Text("errors.already_full", nil, ""))
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("errors:\n  not_found: x\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o600))
	_, err := New(dir)
	assert.ErrorContains(t, err, "duplicate override key")
}

func TestOverrideRejectsNonStrings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_found: 3\n"), 0o600))
	_, err := New(dir)
	assert.Error(t, err)
}
