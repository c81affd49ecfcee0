package engine

import (
	"time"

	"github.com/openscaffold/openscaffold/pkg/manifest"
	"github.com/openscaffold/openscaffold/pkg/params"
	"github.com/openscaffold/openscaffold/pkg/render"
)

// Node is one resolved plugin invocation in the execution graph: a
// plugin plus a fully resolved parameter set. Two invocations of the
// same plugin with equal parameter fingerprints collapse into one node.
type Node struct {
	// ID is the unique node identifier for this run (UUID).
	ID string `json:"id"`

	// Key is the deduplication key: "<pluginID>@<fingerprint>".
	Key string `json:"key"`

	// PluginID is the invoked plugin's ID.
	PluginID string `json:"plugin_id"`

	// Plugin is the loaded manifest. Read-only.
	Plugin *manifest.Plugin `json:"-"`

	// Params is the fully resolved parameter set for this invocation.
	Params params.Set `json:"params"`

	// Fingerprint is Params.Fingerprint(), cached.
	Fingerprint string `json:"fingerprint"`

	// Artifacts are the node's fully rendered artifacts: resolved target
	// paths and concrete content. Rendering happens at graph build so
	// template and path errors surface before any write.
	Artifacts []*render.Artifact `json:"artifacts"`

	// Deps are the node's dependency edges. Every callee must reach a
	// terminal status before this node becomes eligible.
	Deps []Dep `json:"deps"`

	// Dependents are the node IDs that depend on this node.
	Dependents []string `json:"dependents"`

	// Declined marks a node whose plugin was opted out. Declined nodes
	// skip without applying; plugins reachable only through them become
	// declined nodes too.
	Declined bool `json:"declined,omitempty"`

	// MissingDeps lists the declined plugins this node requires through
	// non-optional calls. A non-empty list fails the node at execution.
	MissingDeps []string `json:"missing_deps,omitempty"`

	// Depth is the node's distance from the root invocation.
	Depth int `json:"depth"`

	// Level is the node's topological level. Nodes at the same level
	// have no ordering constraints between them.
	Level int `json:"level"`
}

// Dep is one dependency edge from a caller node to a callee node.
type Dep struct {
	// NodeID is the callee node's ID.
	NodeID string `json:"node_id"`

	// Optional carries the call's optional flag: a declined optional
	// callee does not affect the caller.
	Optional bool `json:"optional,omitempty"`
}

// Graph is the execution graph for one run: a DAG of invocation nodes
// with callers depending on their callees.
type Graph struct {
	// RootID is the node resolved from the requested plugin.
	RootID string `json:"root_id"`

	// Nodes maps node IDs to nodes.
	Nodes map[string]*Node `json:"nodes"`

	// Order is a topological order of node IDs: every node appears after
	// all of its dependencies.
	Order []string `json:"order"`

	// Levels groups node IDs by topological level; nodes within a level
	// may apply concurrently.
	Levels [][]string `json:"levels"`
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// NodeResult is the recorded outcome of one node.
type NodeResult struct {
	// NodeID is the node's ID.
	NodeID string `json:"node_id"`

	// PluginID is the node's plugin ID.
	PluginID string `json:"plugin_id"`

	// Params is the node's resolved parameter set in "K=V K=V" form.
	Params string `json:"params,omitempty"`

	// Fingerprint is the node's parameter fingerprint.
	Fingerprint string `json:"fingerprint"`

	// Status is the node's terminal status.
	Status NodeStatus `json:"status"`

	// SkipReason is set when Status is skipped.
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Artifacts records what each write did.
	Artifacts []ArtifactResult `json:"artifacts,omitempty"`

	// Validations records the node's post-apply check outcomes.
	Validations []ValidationResult `json:"validations,omitempty"`

	// Error is the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	// Duration is the node's wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// ArtifactResult records the effect of one artifact write.
type ArtifactResult struct {
	// Path is the resolved target path, relative to the target root.
	Path string `json:"path"`

	// Strategy is the merge strategy that produced the write.
	Strategy manifest.MergeStrategy `json:"strategy"`

	// Action is what happened to the file.
	Action ArtifactAction `json:"action"`
}

// ValidationResult records one post-apply check outcome.
type ValidationResult struct {
	// Name is the check's declared name.
	Name string `json:"name"`

	// Severity is blocking or optional.
	Severity manifest.Severity `json:"severity"`

	// Passed reports whether the check held.
	Passed bool `json:"passed"`

	// Error carries the evaluation error, if the check itself failed to
	// run. A failed-to-run check counts as not passed.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the result represents a blocking failure.
func (v ValidationResult) Failed() bool {
	return !v.Passed && v.Severity == manifest.SeverityBlocking
}
