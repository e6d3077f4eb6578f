package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/interfaces"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestFileResolver_Resolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTemplate(t, dir, "storage.json", `{"resources":[{"type":"storage_account","name":"main"}]}`)
	writeTemplate(t, dir, "broken.json", `{"resources":`)
	writeTemplate(t, dir, "empty.json", `{"parameters":{}}`)

	resolver, err := NewFileResolver(dir)
	require.NoError(t, err)

	t.Run("ValidTemplate", func(t *testing.T) {
		t.Parallel()
		doc, err := resolver.Resolve("storage")
		require.NoError(t, err)
		assert.Contains(t, doc, "resources")
	})

	t.Run("UnknownName", func(t *testing.T) {
		t.Parallel()
		_, err := resolver.Resolve("missing")
		assert.ErrorIs(t, err, interfaces.ErrTemplateNotFound)
	})

	t.Run("PathTraversalRejected", func(t *testing.T) {
		t.Parallel()
		_, err := resolver.Resolve("../storage")
		assert.ErrorIs(t, err, interfaces.ErrTemplateNotFound)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		t.Parallel()
		_, err := resolver.Resolve("broken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid JSON")
	})

	t.Run("MissingResources", func(t *testing.T) {
		t.Parallel()
		_, err := resolver.Resolve("empty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no resources section")
	})
}

func TestFileResolver_List(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTemplate(t, dir, "web.json", `{"resources":[]}`)
	writeTemplate(t, dir, "db.json", `{"resources":[]}`)
	writeTemplate(t, dir, "notes.txt", "ignored")

	resolver, err := NewFileResolver(dir)
	require.NoError(t, err)

	names, err := resolver.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "web"}, names)
}

func TestNewFileResolver_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileResolver(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
