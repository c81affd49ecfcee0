package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscaffold/openscaffold/pkg/engine"
	"github.com/openscaffold/openscaffold/pkg/manifest"
	"github.com/openscaffold/openscaffold/pkg/params"
	"github.com/openscaffold/openscaffold/pkg/render"
)

func testGraph(nodes ...*engine.Node) *engine.Graph {
	g := &engine.Graph{Nodes: make(map[string]*engine.Node)}
	for i, n := range nodes {
		if i == 0 {
			g.RootID = n.ID
		}
		g.Nodes[n.ID] = n
		g.Order = append(g.Order, n.ID)
	}
	return g
}

func testNode(id, pluginID string, artifacts ...*render.Artifact) *engine.Node {
	return &engine.Node{
		ID:        id,
		Key:       pluginID + "@0000",
		PluginID:  pluginID,
		Params:    params.Set{},
		Artifacts: artifacts,
	}
}

func newOverwriteArtifact(path string) *render.Artifact {
	return &render.Artifact{
		TargetPath: path,
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o644,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestEvaluateCleanGraph(t *testing.T) {
	g := testGraph(testNode("n1", "python-core", &render.Artifact{
		TargetPath: "pyproject.toml",
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o644,
	}))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, &RunContext{Target: "/tmp/proj"})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations)
	assert.NotEmpty(t, result.EvaluatedPolicies)
}

func TestProtectedPathBlocked(t *testing.T) {
	g := testGraph(testNode("n1", "hooks", &render.Artifact{
		TargetPath: ".git/hooks/pre-commit",
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o755,
	}))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.NotEmpty(t, result.Blocking())
	v := result.Blocking()[0]
	assert.Equal(t, "protected-paths", v.Policy)
	assert.Equal(t, ".git/hooks/pre-commit", v.Path)
}

func TestSecretOverwriteBlocked(t *testing.T) {
	g := testGraph(testNode("n1", "dotenv", &render.Artifact{
		TargetPath: ".env",
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o600,
	}))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestSecretAppendAllowed(t *testing.T) {
	// Appending to .env composes; only overwrite is blocked.
	g := testGraph(testNode("n1", "dotenv", &render.Artifact{
		TargetPath: ".env",
		Strategy:   manifest.MergeAppend,
		Mode:       0o600,
	}))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestWorldWritableModeBlocked(t *testing.T) {
	g := testGraph(testNode("n1", "scripts", &render.Artifact{
		TargetPath: "scripts/run.sh",
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o777,
	}))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.NotEmpty(t, result.Blocking())
	assert.Equal(t, "world-writable-mode", result.Blocking()[0].Policy)
}

func TestBadPluginNameBlocked(t *testing.T) {
	g := testGraph(testNode("n1", "Bad_Plugin"))

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.NotEmpty(t, result.Blocking())
	assert.Equal(t, "plugin-naming", result.Blocking()[0].Policy)
}

func TestLargeGraphWarnsOnly(t *testing.T) {
	nodes := make([]*engine.Node, 0, 70)
	for i := 0; i < 70; i++ {
		nodes = append(nodes, testNode(fmt.Sprintf("n%d", i), "plugin"))
	}
	g := testGraph(nodes...)

	result, err := newTestEngine(t).EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)

	// A warning, not a block.
	assert.True(t, result.Allowed)
	require.NotEmpty(t, result.Violations)

	found := false
	for _, v := range result.Violations {
		if v.Policy == "graph-size" {
			found = true
			assert.Equal(t, SeverityWarning, v.Severity)
		}
	}
	assert.True(t, found)
}

func TestCustomPolicyLoaded(t *testing.T) {
	e := newTestEngine(t)

	custom := &Policy{
		Name:     "no-makefiles",
		Severity: SeverityError,
		Enabled:  true,
		Source:   "test",
		Rego: `package scaffold.policies.custom

import rego.v1

deny contains violation if {
	some node in input.graph.nodes
	some artifact in node.artifacts
	artifact.path == "Makefile"

	violation := {
		"message": "Makefiles are not allowed here",
		"severity": "error",
		"node": node.key,
		"path": artifact.path,
	}
}`,
	}
	require.NoError(t, e.ReplacePolicies([]*Policy{custom}))

	g := testGraph(testNode("n1", "make", &render.Artifact{
		TargetPath: "Makefile",
		Strategy:   manifest.MergeOverwrite,
		Mode:       0o644,
	}))

	result, err := e.EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	e := newTestEngine(t)
	before := len(e.ListPolicies())

	require.NoError(t, e.ReplacePolicies(nil))
	assert.Len(t, e.ListPolicies(), before)

	_, err := e.GetPolicy("protected-paths")
	assert.NoError(t, err)
}

func TestDisabledPolicySkipped(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetEnabled("plugin-naming", false))

	g := testGraph(testNode("n1", "Bad_Plugin"))
	result, err := e.EvaluateGraph(context.Background(), g, nil)
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.NotContains(t, result.EvaluatedPolicies, "plugin-naming")
}

func TestGetPolicyUnknown(t *testing.T) {
	_, err := newTestEngine(t).GetPolicy("nope")
	assert.Error(t, err)
}
