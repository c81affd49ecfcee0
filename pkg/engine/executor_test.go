package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openscaffold/openscaffold/pkg/predicate"
	"github.com/openscaffold/openscaffold/pkg/target"
)

type runFixture struct {
	graph *Graph
	fs    *target.Local
	root  string
}

func newRunFixture(t *testing.T, manifests map[string]string, req *BuildRequest) *runFixture {
	t.Helper()

	graph := buildGraph(t, manifests, req)

	root := t.TempDir()
	fs, err := target.NewLocal(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	return &runFixture{graph: graph, fs: fs, root: root}
}

func (f *runFixture) run(t *testing.T, opts ExecutorOptions) *Report {
	t.Helper()
	if opts.Runner == nil {
		opts.Runner = &predicate.LocalRunner{Dir: f.root}
	}
	report, err := NewExecutor(f.fs, zerolog.Nop(), opts).Run(context.Background(), "test-run", f.graph)
	require.NoError(t, err)
	return report
}

func resultFor(t *testing.T, report *Report, pluginID string) NodeResult {
	t.Helper()
	for _, n := range report.Nodes {
		if n.PluginID == pluginID {
			return n
		}
	}
	t.Fatalf("no result for plugin %s", pluginID)
	return NodeResult{}
}

func TestRun_AppliesWholeGraph(t *testing.T) {
	manifests := map[string]string{
		"python-core": `
id: python-core
parameters:
  - name: INSTALL_PATH
    default: "backend"
artifacts:
  - content: "[tool.poetry]\nname = \"app\"\n"
    target_path: "{{INSTALL_PATH}}/pyproject.toml"
    strategy: overwrite
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

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "python-core"})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.Equal(t, ExitCodeSuccess, report.ExitCode())

	applied, skipped, failed := report.Counts()
	assert.Equal(t, 2, applied)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)

	data, err := os.ReadFile(filepath.Join(f.root, "backend", "pyproject.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "tool.poetry")

	_, err = os.Stat(filepath.Join(f.root, ".editorconfig"))
	require.NoError(t, err)

	// Callee results precede caller results in the report.
	var order []string
	for _, n := range report.Nodes {
		order = append(order, n.PluginID)
	}
	assert.Equal(t, []string{"editorconfig", "python-core"}, order)
}

func TestRun_SecondRunSkipsAlreadyApplied(t *testing.T) {
	manifests := map[string]string{
		"gitignore": `
id: gitignore
artifacts:
  - content: "__pycache__/\n"
    target_path: ".gitignore"
    strategy: append
applied_when:
  - file_contains(".gitignore", "__pycache__/")
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "gitignore"})

	first := f.run(t, ExecutorOptions{})
	assert.Equal(t, NodeStatusApplied, resultFor(t, first, "gitignore").Status)

	before, err := os.ReadFile(filepath.Join(f.root, ".gitignore"))
	require.NoError(t, err)

	second := f.run(t, ExecutorOptions{})
	result := resultFor(t, second, "gitignore")
	assert.Equal(t, NodeStatusSkipped, result.Status)
	assert.Equal(t, SkipAlreadyApplied, result.SkipReason)
	assert.Equal(t, ExitCodeSuccess, second.ExitCode())

	after, err := os.ReadFile(filepath.Join(f.root, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "second run must not modify the target")
}

func TestRun_BlockingValidationPrunesDependents(t *testing.T) {
	// docker's blocking validation fails; ci-cd depends on docker and is
	// pruned; the independent linting branch still applies.
	manifests := map[string]string{
		"stack": `
id: stack
calls:
  - invoke: "invoke ci-cd"
  - invoke: "invoke linting"
`,
		"ci-cd": `
id: ci-cd
artifacts:
  - content: "pipeline\n"
    target_path: ".github/workflows/ci.yml"
    strategy: overwrite
calls:
  - invoke: "invoke docker"
`,
		"docker": `
id: docker
artifacts:
  - content: "FROM python:3.12\n"
    target_path: "Dockerfile"
    strategy: overwrite
validations:
  - name: compose-file-present
    check: file_exists("docker-compose.yml")
    severity: blocking
`,
		"linting": `
id: linting
artifacts:
  - content: "line-length = 100\n"
    target_path: ".ruff.toml"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "stack"})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, ExitCodeFailed, report.ExitCode())

	docker := resultFor(t, report, "docker")
	assert.Equal(t, NodeStatusFailed, docker.Status)
	assert.Contains(t, docker.Error, "compose-file-present")

	cicd := resultFor(t, report, "ci-cd")
	assert.Equal(t, NodeStatusSkipped, cicd.Status)
	assert.Equal(t, SkipDependencyFailed, cicd.SkipReason)

	stack := resultFor(t, report, "stack")
	assert.Equal(t, NodeStatusSkipped, stack.Status)
	assert.Equal(t, SkipDependencyFailed, stack.SkipReason)

	// The failure in the docker branch does not stop linting.
	assert.Equal(t, NodeStatusApplied, resultFor(t, report, "linting").Status)
	_, err := os.Stat(filepath.Join(f.root, ".ruff.toml"))
	require.NoError(t, err)

	// The pruned ci-cd node wrote nothing.
	_, err = os.Stat(filepath.Join(f.root, ".github"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_OptionalValidationWarnsOnly(t *testing.T) {
	manifests := map[string]string{
		"docs": `
id: docs
artifacts:
  - content: "# App\n"
    target_path: "README.md"
    strategy: overwrite
validations:
  - name: changelog-present
    check: file_exists("CHANGELOG.md")
    severity: optional
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "docs"})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.Equal(t, ExitCodeSuccess, report.ExitCode())
	require.Len(t, report.Warnings(), 1)
	assert.Contains(t, report.Warnings()[0], "changelog-present")
}

func TestRun_FailFastStopsDispatch(t *testing.T) {
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke broken"
  - invoke: "invoke healthy"
`,
		"broken": `
id: broken
validations:
  - name: always-fails
    check: file_exists("never-there")
    severity: blocking
`,
		"healthy": `
id: healthy
artifacts:
  - content: "ok\n"
    target_path: "healthy.txt"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "root"})
	report := f.run(t, ExecutorOptions{Concurrency: 1, FailFast: true})

	assert.Equal(t, RunStatusFailed, report.Status)

	// With fail-fast the healthy branch either finished before the
	// failure or was aborted; it must never fail.
	healthy := resultFor(t, report, "healthy")
	assert.NotEqual(t, NodeStatusFailed, healthy.Status)
	if healthy.Status == NodeStatusSkipped {
		assert.Equal(t, SkipRunAborted, healthy.SkipReason)
	}

	// Every node reached a terminal status.
	for _, n := range report.Nodes {
		assert.True(t, n.Status.IsTerminal(), "node %s not terminal: %s", n.PluginID, n.Status)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	manifests := map[string]string{
		"python-core": `
id: python-core
artifacts:
  - content: "[tool.poetry]\n"
    target_path: "pyproject.toml"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "python-core"})
	report := f.run(t, ExecutorOptions{DryRun: true})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.True(t, report.DryRun)

	result := resultFor(t, report, "python-core")
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, ArtifactCreated, result.Artifacts[0].Action)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run must not write to the target")
}

func TestRun_SkippedNodeStillValidates(t *testing.T) {
	// A stale marker satisfies applied_when, but the blocking validation
	// does not hold: the node fails rather than skipping, and dependents
	// are pruned.
	manifests := map[string]string{
		"ci-cd": `
id: ci-cd
artifacts:
  - content: "pipeline\n"
    target_path: ".github/workflows/ci.yml"
    strategy: overwrite
calls:
  - invoke: "invoke docker"
`,
		"docker": `
id: docker
artifacts:
  - content: "FROM python:3.12\n"
    target_path: "Dockerfile"
    strategy: overwrite
applied_when:
  - file_exists("marker.txt")
validations:
  - name: compose-file-present
    check: file_exists("compose.yaml")
    severity: blocking
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "ci-cd"})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "marker.txt"), []byte("stale\n"), 0o644))

	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, ExitCodeFailed, report.ExitCode())

	docker := resultFor(t, report, "docker")
	assert.Equal(t, NodeStatusFailed, docker.Status)
	assert.Empty(t, docker.SkipReason)
	assert.Contains(t, docker.Error, "compose-file-present")

	cicd := resultFor(t, report, "ci-cd")
	assert.Equal(t, NodeStatusSkipped, cicd.Status)
	assert.Equal(t, SkipDependencyFailed, cicd.SkipReason)

	// The skip path wrote nothing before its validation failed.
	_, err := os.Stat(filepath.Join(f.root, "Dockerfile"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_SkippedNodeRecordsPassingValidations(t *testing.T) {
	manifests := map[string]string{
		"docker": `
id: docker
artifacts:
  - content: "FROM python:3.12\n"
    target_path: "Dockerfile"
    strategy: overwrite
applied_when:
  - file_exists("marker.txt")
validations:
  - name: compose-file-present
    check: file_exists("compose.yaml")
    severity: blocking
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "docker"})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "marker.txt"), []byte("ok\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "compose.yaml"), []byte("services: {}\n"), 0o644))

	report := f.run(t, ExecutorOptions{})

	result := resultFor(t, report, "docker")
	assert.Equal(t, NodeStatusSkipped, result.Status)
	assert.Equal(t, SkipAlreadyApplied, result.SkipReason)
	require.Len(t, result.Validations, 1)
	assert.True(t, result.Validations[0].Passed)
	assert.Equal(t, ExitCodeSuccess, report.ExitCode())
}

func TestRun_DeclinedPluginSkips(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
artifacts:
  - content: "app\n"
    target_path: "app.conf"
    strategy: overwrite
calls:
  - invoke: "invoke linting"
    optional: true
`,
		"linting": `
id: linting
artifacts:
  - content: "lint\n"
    target_path: ".lintrc"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{
		PluginID: "app",
		Declined: map[string]bool{"linting": true},
	})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusSucceeded, report.Status)

	linting := resultFor(t, report, "linting")
	assert.Equal(t, NodeStatusSkipped, linting.Status)
	assert.Equal(t, SkipDeclined, linting.SkipReason)

	assert.Equal(t, NodeStatusApplied, resultFor(t, report, "app").Status)
	_, err := os.Stat(filepath.Join(f.root, ".lintrc"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_RequiredDeclinedDependencyFailsCaller(t *testing.T) {
	// strict requires linting, which is declined: strict fails, root is
	// pruned, and the independent healthy branch still applies. The whole
	// run stays diagnosable through the report.
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke strict"
  - invoke: "invoke healthy"
`,
		"strict": `
id: strict
artifacts:
  - content: "strict\n"
    target_path: "strict.conf"
    strategy: overwrite
calls:
  - invoke: "invoke linting"
`,
		"healthy": `
id: healthy
artifacts:
  - content: "ok\n"
    target_path: "healthy.txt"
    strategy: overwrite
`,
		"linting": `
id: linting
artifacts:
  - content: "lint\n"
    target_path: ".lintrc"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{
		PluginID: "root",
		Declined: map[string]bool{"linting": true},
	})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, ExitCodeFailed, report.ExitCode())
	assert.Len(t, report.Nodes, 4)

	linting := resultFor(t, report, "linting")
	assert.Equal(t, NodeStatusSkipped, linting.Status)
	assert.Equal(t, SkipDeclined, linting.SkipReason)

	strict := resultFor(t, report, "strict")
	assert.Equal(t, NodeStatusFailed, strict.Status)
	assert.Contains(t, strict.Error, "linting")
	assert.Contains(t, strict.Error, "declined")

	rootResult := resultFor(t, report, "root")
	assert.Equal(t, NodeStatusSkipped, rootResult.Status)
	assert.Equal(t, SkipDependencyFailed, rootResult.SkipReason)

	assert.Equal(t, NodeStatusApplied, resultFor(t, report, "healthy").Status)

	// The failed caller wrote nothing.
	_, err := os.Stat(filepath.Join(f.root, "strict.conf"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_DeclinedSubtreeReportedSkipped(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
artifacts:
  - content: "app\n"
    target_path: "app.conf"
    strategy: overwrite
calls:
  - invoke: "invoke ui"
    optional: true
`,
		"ui": `
id: ui
calls:
  - invoke: "invoke ui-theme"
`,
		"ui-theme": `
id: ui-theme
artifacts:
  - content: "theme\n"
    target_path: "theme.css"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{
		PluginID: "app",
		Declined: map[string]bool{"ui": true},
	})
	report := f.run(t, ExecutorOptions{})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.Len(t, report.Nodes, 3)

	for _, id := range []string{"ui", "ui-theme"} {
		result := resultFor(t, report, id)
		assert.Equal(t, NodeStatusSkipped, result.Status, id)
		assert.Equal(t, SkipDeclined, result.SkipReason, id)
	}

	assert.Equal(t, NodeStatusApplied, resultFor(t, report, "app").Status)
	_, err := os.Stat(filepath.Join(f.root, "theme.css"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_ConcurrentAppendsCompose(t *testing.T) {
	manifests := map[string]string{
		"stack": `
id: stack
calls:
  - invoke: "invoke ignore-python"
  - invoke: "invoke ignore-node"
  - invoke: "invoke ignore-editor"
  - invoke: "invoke ignore-env"
`,
		"ignore-python": `
id: ignore-python
artifacts:
  - content: "__pycache__/\n"
    target_path: ".gitignore"
    strategy: append
`,
		"ignore-node": `
id: ignore-node
artifacts:
  - content: "node_modules/\n"
    target_path: ".gitignore"
    strategy: append
`,
		"ignore-editor": `
id: ignore-editor
artifacts:
  - content: ".idea/\n"
    target_path: ".gitignore"
    strategy: append
`,
		"ignore-env": `
id: ignore-env
artifacts:
  - content: ".env\n"
    target_path: ".gitignore"
    strategy: append
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "stack"})
	report := f.run(t, ExecutorOptions{Concurrency: 4})

	assert.Equal(t, RunStatusSucceeded, report.Status)

	data, err := os.ReadFile(filepath.Join(f.root, ".gitignore"))
	require.NoError(t, err)
	content := string(data)
	for _, line := range []string{"__pycache__/", "node_modules/", ".idea/", ".env"} {
		assert.Equal(t, 1, strings.Count(content, line+"\n"), "line %q must appear exactly once", line)
	}
}

type fakeHistory struct {
	applied map[string]bool
}

func (h *fakeHistory) WasApplied(_ context.Context, pluginID, _, _ string) (bool, error) {
	return h.applied[pluginID], nil
}

func TestRun_HistorySkipsPluginsWithoutPredicates(t *testing.T) {
	manifests := map[string]string{
		"once": `
id: once
artifacts:
  - content: "one-shot\n"
    target_path: "once.txt"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "once"})
	report := f.run(t, ExecutorOptions{History: &fakeHistory{applied: map[string]bool{"once": true}}})

	result := resultFor(t, report, "once")
	assert.Equal(t, NodeStatusSkipped, result.Status)
	assert.Equal(t, SkipAlreadyApplied, result.SkipReason)

	_, err := os.Stat(filepath.Join(f.root, "once.txt"))
	assert.True(t, os.IsNotExist(err))
}

type recordingStore struct {
	results []*NodeResult
}

func (r *recordingStore) RecordNode(_ context.Context, _ string, result *NodeResult) error {
	r.results = append(r.results, result)
	return nil
}

func TestRun_RecordsEveryNode(t *testing.T) {
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke leaf"
`,
		"leaf": `
id: leaf
artifacts:
  - content: "leaf\n"
    target_path: "leaf.txt"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "root"})
	recorder := &recordingStore{}
	report := f.run(t, ExecutorOptions{Recorder: recorder})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.Len(t, recorder.results, 2)
}

type fakeTracer struct {
	mu    sync.Mutex
	spans []string
}

func (f *fakeTracer) StartNodeSpan(ctx context.Context, _, pluginID string) (context.Context, trace.Span) {
	f.mu.Lock()
	f.spans = append(f.spans, pluginID)
	f.mu.Unlock()
	return noop.NewTracerProvider().Tracer("test").Start(ctx, "node.apply")
}

func TestRun_TracesEveryNode(t *testing.T) {
	manifests := map[string]string{
		"root": `
id: root
calls:
  - invoke: "invoke leaf"
`,
		"leaf": `
id: leaf
artifacts:
  - content: "leaf\n"
    target_path: "leaf.txt"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "root"})
	tracer := &fakeTracer{}
	report := f.run(t, ExecutorOptions{Tracer: tracer})

	assert.Equal(t, RunStatusSucceeded, report.Status)
	assert.ElementsMatch(t, []string{"root", "leaf"}, tracer.spans)
}

func TestRun_SummaryRenders(t *testing.T) {
	manifests := map[string]string{
		"app": `
id: app
artifacts:
  - content: "app\n"
    target_path: "app.conf"
    strategy: overwrite
`,
	}

	f := newRunFixture(t, manifests, &BuildRequest{PluginID: "app"})
	report := f.run(t, ExecutorOptions{})
	summary := report.Summary()

	assert.Contains(t, summary, "app")
	assert.Contains(t, summary, "applied")
	assert.Contains(t, summary, "1 applied, 0 skipped, 0 failed")
}
