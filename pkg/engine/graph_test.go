package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscaffold/openscaffold/pkg/manifest"
)

// storeWith loads a manifest store from inline YAML documents, one
// plugin directory per entry.
func storeWith(t *testing.T, manifests map[string]string) *manifest.Store {
	t.Helper()

	root := t.TempDir()
	for id, doc := range manifests {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.ManifestFileName), []byte(doc), 0o644))
	}

	store := manifest.NewStore(zerolog.Nop())
	require.NoError(t, store.LoadDir(root))
	return store
}

func buildGraph(t *testing.T, manifests map[string]string, req *BuildRequest) *Graph {
	t.Helper()
	graph, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(req)
	require.NoError(t, err)
	return graph
}

func TestBuild_SharedDependencyDeduplicates(t *testing.T) {
	manifests := map[string]string{
		"fullstack": `
id: fullstack
calls:
  - invoke: "invoke python-core"
  - invoke: "invoke typescript-core"
`,
		"python-core": `
id: python-core
calls:
  - invoke: "invoke editorconfig"
`,
		"typescript-core": `
id: typescript-core
calls:
  - invoke: "invoke editorconfig"
`,
		"editorconfig": `
id: editorconfig
artifacts:
  - content: "root = true\n"
    target_path: ".editorconfig"
    strategy: overwrite
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{PluginID: "fullstack"})

	// editorconfig appears once despite two callers.
	assert.Equal(t, 4, graph.Len())

	position := make(map[string]int)
	for i, id := range graph.Order {
		position[graph.Nodes[id].PluginID] = i
	}
	assert.Less(t, position["editorconfig"], position["python-core"])
	assert.Less(t, position["editorconfig"], position["typescript-core"])
	assert.Less(t, position["python-core"], position["fullstack"])
	assert.Less(t, position["typescript-core"], position["fullstack"])
}

func TestBuild_DifferentParamsAreDifferentNodes(t *testing.T) {
	manifests := map[string]string{
		"stack": `
id: stack
calls:
  - invoke: "invoke service with NAME=api"
  - invoke: "invoke service with NAME=worker"
`,
		"service": `
id: service
parameters:
  - name: NAME
artifacts:
  - content: "service {{NAME}}\n"
    target_path: "services/{{NAME}}/service.conf"
    strategy: overwrite
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{PluginID: "stack"})

	assert.Equal(t, 3, graph.Len())

	var paths []string
	for _, node := range graph.Nodes {
		for _, a := range node.Artifacts {
			paths = append(paths, a.TargetPath)
		}
	}
	assert.ElementsMatch(t, []string{"services/api/service.conf", "services/worker/service.conf"}, paths)
}

func TestBuild_ExplicitParamsApplyEverywhere(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
parameters:
  - name: INSTALL_PATH
    default: "backend"
calls:
  - invoke: "invoke deps with INSTALL_PATH={{INSTALL_PATH}}"
`,
		"deps": `
id: deps
parameters:
  - name: INSTALL_PATH
    default: "backend"
artifacts:
  - content: "deps\n"
    target_path: "{{INSTALL_PATH}}/requirements.txt"
    strategy: overwrite
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{
		PluginID: "app",
		Params:   map[string]string{"INSTALL_PATH": "services/api"},
	})

	for _, node := range graph.Nodes {
		if node.PluginID != "deps" {
			continue
		}
		value, ok := node.Params.Get("INSTALL_PATH")
		require.True(t, ok)
		assert.Equal(t, "services/api", value)
		assert.Equal(t, "services/api/requirements.txt", node.Artifacts[0].TargetPath)
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	manifests := map[string]string{
		"a": `
id: a
calls:
  - invoke: "invoke b"
`,
		"b": `
id: b
calls:
  - invoke: "invoke a"
`,
	}

	_, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(&BuildRequest{PluginID: "a"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeCycleDetected), "got: %v", err)
	assert.Contains(t, err.Error(), "a@")
}

func TestBuild_MissingParameter(t *testing.T) {
	manifests := map[string]string{
		"service": `
id: service
parameters:
  - name: NAME
artifacts:
  - content: "service {{NAME}}\n"
    target_path: "service.conf"
    strategy: overwrite
`,
	}

	_, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(&BuildRequest{PluginID: "service"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingParameter), "got: %v", err)

	// With the parameter bound the build succeeds.
	graph := buildGraph(t, manifests, &BuildRequest{
		PluginID: "service",
		Params:   map[string]string{"NAME": "api"},
	})
	assert.Equal(t, 1, graph.Len())
}

func TestBuild_PathEscape(t *testing.T) {
	manifests := map[string]string{
		"evil": `
id: evil
parameters:
  - name: DIR
    default: "../../etc"
artifacts:
  - content: "x"
    target_path: "{{DIR}}/passwd"
    strategy: overwrite
`,
	}

	_, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(&BuildRequest{PluginID: "evil"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodePathEscape), "got: %v", err)
}

func TestBuild_UnknownPlugin(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
calls:
  - invoke: "invoke nonexistent"
`,
	}

	_, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(&BuildRequest{PluginID: "app"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeUnknownPlugin), "got: %v", err)
}

func TestBuild_DeclinedDependency(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
calls:
  - invoke: "invoke linting"
    optional: true
`,
		"strict-app": `
id: strict-app
calls:
  - invoke: "invoke linting"
`,
		"linting": `
id: linting
artifacts:
  - content: "lint\n"
    target_path: ".lintrc"
    strategy: overwrite
`,
	}
	declined := map[string]bool{"linting": true}

	// Optional caller: the declined plugin becomes a skip node.
	graph := buildGraph(t, manifests, &BuildRequest{PluginID: "app", Declined: declined})
	require.Equal(t, 2, graph.Len())
	var declinedNode *Node
	for _, node := range graph.Nodes {
		if node.PluginID == "linting" {
			declinedNode = node
		}
	}
	require.NotNil(t, declinedNode)
	assert.True(t, declinedNode.Declined)
	assert.Empty(t, declinedNode.Artifacts)

	// Required caller: the graph still builds; the caller carries its
	// missing dependency and fails at execution time.
	graph = buildGraph(t, manifests, &BuildRequest{PluginID: "strict-app", Declined: declined})
	require.Equal(t, 2, graph.Len())
	var caller *Node
	for _, node := range graph.Nodes {
		if node.PluginID == "strict-app" {
			caller = node
		}
	}
	require.NotNil(t, caller)
	assert.Equal(t, []string{"linting"}, caller.MissingDeps)
}

func TestBuild_DeclinedSubtreeExpanded(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
calls:
  - invoke: "invoke ui"
    optional: true
  - invoke: "invoke editorconfig"
`,
		"ui": `
id: ui
calls:
  - invoke: "invoke ui-theme"
  - invoke: "invoke editorconfig"
`,
		"ui-theme": `
id: ui-theme
artifacts:
  - content: "theme\n"
    target_path: "theme.css"
    strategy: overwrite
`,
		"editorconfig": `
id: editorconfig
artifacts:
  - content: "root = true\n"
    target_path: ".editorconfig"
    strategy: overwrite
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{
		PluginID: "app",
		Declined: map[string]bool{"ui": true},
	})

	// app and editorconfig stay live; ui and ui-theme are declined.
	require.Equal(t, 4, graph.Len())

	byPlugin := make(map[string]*Node)
	for _, node := range graph.Nodes {
		byPlugin[node.PluginID] = node
	}

	require.NotNil(t, byPlugin["ui"])
	assert.True(t, byPlugin["ui"].Declined)

	// ui-theme is reachable only through the declined ui node.
	require.NotNil(t, byPlugin["ui-theme"])
	assert.True(t, byPlugin["ui-theme"].Declined)
	assert.Empty(t, byPlugin["ui-theme"].Artifacts)

	// editorconfig has a live path through app, so it applies normally.
	assert.False(t, byPlugin["editorconfig"].Declined)
	assert.NotEmpty(t, byPlugin["editorconfig"].Artifacts)
}

func TestBuild_SectionConflict(t *testing.T) {
	base := map[string]string{
		"stack": `
id: stack
calls:
  - invoke: "invoke python-docker"
  - invoke: "invoke node-docker"
`,
		"python-docker": `
id: python-docker
artifacts:
  - content: "RUN pip install poetry\n"
    target_path: "Dockerfile"
    strategy: merge-section
    section_id: deps
`,
	}

	conflicting := map[string]string{}
	for k, v := range base {
		conflicting[k] = v
	}
	conflicting["node-docker"] = `
id: node-docker
artifacts:
  - content: "RUN npm ci\n"
    target_path: "Dockerfile"
    strategy: merge-section
    section_id: deps
`

	_, err := NewBuilder(storeWith(t, conflicting), zerolog.Nop()).Build(&BuildRequest{PluginID: "stack"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeArtifactConflict), "got: %v", err)
	assert.True(t, IsConflict(err))

	// Identical section content from two plugins composes fine.
	agreeing := map[string]string{}
	for k, v := range base {
		agreeing[k] = v
	}
	agreeing["node-docker"] = `
id: node-docker
artifacts:
  - content: "RUN pip install poetry\n"
    target_path: "Dockerfile"
    strategy: merge-section
    section_id: deps
`
	graph := buildGraph(t, agreeing, &BuildRequest{PluginID: "stack"})
	assert.Equal(t, 3, graph.Len())
}

func TestBuild_OverwriteConflict(t *testing.T) {
	manifests := map[string]string{
		"stack": `
id: stack
calls:
  - invoke: "invoke a"
  - invoke: "invoke b"
`,
		"a": `
id: a
artifacts:
  - content: "A\n"
    target_path: "config.toml"
    strategy: overwrite
`,
		"b": `
id: b
artifacts:
  - content: "B\n"
    target_path: "config.toml"
    strategy: overwrite
`,
	}

	_, err := NewBuilder(storeWith(t, manifests), zerolog.Nop()).Build(&BuildRequest{PluginID: "stack"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeArtifactConflict), "got: %v", err)
}

func TestBuild_LevelsRespectDependencies(t *testing.T) {
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke mid"
`,
		"mid": `
id: mid
calls:
  - invoke: "invoke leaf"
`,
		"leaf": `
id: leaf
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{PluginID: "root"})

	require.Len(t, graph.Levels, 3)
	for _, id := range graph.Order {
		node := graph.Nodes[id]
		for _, dep := range node.Deps {
			assert.Less(t, graph.Nodes[dep.NodeID].Level, node.Level,
				"dependency %s must be on an earlier level than %s",
				graph.Nodes[dep.NodeID].PluginID, node.PluginID)
		}
	}
}

func TestBuild_ToDOT(t *testing.T) {
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke leaf"
`,
		"leaf": `
id: leaf
`,
	}

	graph := buildGraph(t, manifests, &BuildRequest{PluginID: "root"})
	dot := graph.ToDOT()

	assert.Contains(t, dot, "digraph InstallGraph")
	assert.Contains(t, dot, "root")
	assert.Contains(t, dot, "leaf")
	assert.Contains(t, dot, "->")
}
