package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `
id: python-core
description: Python tooling baseline
parameters:
  - name: INSTALL_PATH
    description: Subtree to install into
  - name: PYTHON_VERSION
    default: "3.12"
artifacts:
  - content: |
      [tool.ruff]
      target-version = "py{{PYTHON_VERSION}}"
    target_path: "{{INSTALL_PATH}}/pyproject.toml"
    strategy: overwrite
  - content: |
      __pycache__/
    target_path: "{{INSTALL_PATH}}/.gitignore"
    strategy: append
calls:
  - invoke: invoke editorconfig
    optional: true
validations:
  - name: pyproject-exists
    check: file_exists("{{INSTALL_PATH}}/pyproject.toml")
    severity: blocking
applied_when:
  - file_exists("{{INSTALL_PATH}}/pyproject.toml")
`

func TestLoader_LoadFromBytes_Valid(t *testing.T) {
	loader := NewLoader()

	plugin, err := loader.LoadFromBytes([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "python-core", plugin.ID)
	require.Len(t, plugin.Parameters, 2)
	assert.True(t, plugin.Parameters[0].Required())
	assert.False(t, plugin.Parameters[1].Required())
	assert.Equal(t, "3.12", *plugin.Parameters[1].Default)

	require.Len(t, plugin.Artifacts, 2)
	assert.Equal(t, MergeOverwrite, plugin.Artifacts[0].Strategy)
	assert.Equal(t, MergeAppend, plugin.Artifacts[1].Strategy)

	refs, err := plugin.ParsedCalls()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "editorconfig", refs[0].PluginID)
	assert.True(t, refs[0].Optional)

	require.Len(t, plugin.Validations, 1)
	assert.Equal(t, SeverityBlocking, plugin.Validations[0].Severity)
}

func TestLoader_LoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing id",
			doc: `
description: no id here
`,
		},
		{
			name: "bad merge strategy",
			doc: `
id: broken
artifacts:
  - content: x
    target_path: out.txt
    strategy: replace
`,
		},
		{
			name: "merge-section without section id",
			doc: `
id: broken
artifacts:
  - content: x
    target_path: Makefile
    strategy: merge-section
`,
		},
		{
			name: "artifact with neither template nor content",
			doc: `
id: broken
artifacts:
  - target_path: out.txt
    strategy: overwrite
`,
		},
		{
			name: "artifact with both template and content",
			doc: `
id: broken
artifacts:
  - template: a.tmpl
    content: x
    target_path: out.txt
    strategy: overwrite
`,
		},
		{
			name: "absolute template path",
			doc: `
id: broken
artifacts:
  - template: /etc/passwd
    target_path: out.txt
    strategy: overwrite
`,
		},
		{
			name: "self invocation",
			doc: `
id: loop
calls:
  - invoke: invoke loop
`,
		},
		{
			name: "duplicate parameter",
			doc: `
id: broken
parameters:
  - name: A
  - name: A
`,
		},
		{
			name: "bad validation severity",
			doc: `
id: broken
validations:
  - name: check
    check: file_exists("x")
    severity: fatal
`,
		},
		{
			name: "invalid artifact mode",
			doc: `
id: broken
artifacts:
  - content: x
    target_path: out.txt
    strategy: overwrite
    mode: "09z"
`,
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadFromBytes([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestStore_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "python-core", validManifest)
	writePlugin(t, dir, "editorconfig", `
id: editorconfig
artifacts:
  - content: "root = true"
    target_path: .editorconfig
    strategy: overwrite
`)

	store := NewStore(zerolog.Nop())
	require.NoError(t, store.LoadDir(dir))

	assert.Equal(t, 2, store.Len())

	plugin, err := store.Get("python-core")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "python-core"), plugin.Dir)

	_, err = store.Get("missing")
	assert.Error(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "editorconfig", list[0].ID)
	assert.Equal(t, "python-core", list[1].ID)
}

func TestStore_LoadFile(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "python-core", validManifest)

	store := NewStore(zerolog.Nop())
	require.NoError(t, store.LoadDir(dir))

	// A root manifest outside the plugin root joins the index.
	extra := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, os.WriteFile(extra, []byte(`
id: fullstack
calls:
  - invoke: "invoke python-core"
`), 0o644))

	plugin, err := store.LoadFile(extra)
	require.NoError(t, err)
	assert.Equal(t, "fullstack", plugin.ID)
	assert.Equal(t, 2, store.Len())

	indexed, err := store.Get("fullstack")
	require.NoError(t, err)
	assert.Equal(t, extra, indexed.Path)

	// Loading the same ID twice is a duplicate.
	_, err = store.LoadFile(extra)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate plugin id")
}

func TestStore_LoadDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "a", "id: dup")
	writePlugin(t, dir, "b", "id: dup")

	store := NewStore(zerolog.Nop())
	err := store.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate plugin id")
}

func TestPlugin_TemplateSource(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "docker")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "Dockerfile.tmpl"), []byte("FROM {{BASE_IMAGE}}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFileName), []byte(`
id: docker
parameters:
  - name: BASE_IMAGE
    default: alpine
artifacts:
  - template: Dockerfile.tmpl
    target_path: Dockerfile
    strategy: overwrite
`), 0o644))

	store := NewStore(zerolog.Nop())
	require.NoError(t, store.LoadDir(dir))

	plugin, err := store.Get("docker")
	require.NoError(t, err)

	src, err := plugin.TemplateSource(plugin.Artifacts[0])
	require.NoError(t, err)
	assert.Equal(t, "FROM {{BASE_IMAGE}}\n", src)
}

func writePlugin(t *testing.T, root, name, doc string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
}
