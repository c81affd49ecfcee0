package engine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openscaffold/openscaffold/pkg/manifest"
	"github.com/openscaffold/openscaffold/pkg/params"
	"github.com/openscaffold/openscaffold/pkg/render"
	"github.com/openscaffold/openscaffold/pkg/target"
)

// DefaultMaxDepth bounds call-chain depth during graph expansion. Deep
// chains are almost always an unbounded parameterized recursion that the
// fingerprint-based cycle check cannot catch.
const DefaultMaxDepth = 32

// BuildRequest describes one requested installation.
type BuildRequest struct {
	// PluginID is the root plugin to install.
	PluginID string

	// Params are the explicit bindings from the caller. They apply at
	// every node in the graph and take precedence over inherited
	// bindings and defaults.
	Params map[string]string

	// Declined lists plugin IDs opted out of this run. A declined plugin
	// becomes a skipped node; required callers of it fail at execution
	// time.
	Declined map[string]bool
}

// Builder expands a requested plugin into an execution graph: it
// resolves parameters, renders artifacts, follows calls, detects cycles,
// and computes topological levels.
type Builder struct {
	store    *manifest.Store
	maxDepth int
	logger   zerolog.Logger
}

// NewBuilder creates a graph builder over a manifest store.
func NewBuilder(store *manifest.Store, logger zerolog.Logger) *Builder {
	return &Builder{
		store:    store,
		maxDepth: DefaultMaxDepth,
		logger:   logger.With().Str("component", "graph").Logger(),
	}
}

// Build constructs the execution graph for one request. Every error
// here surfaces before any write reaches the target.
func (b *Builder) Build(req *BuildRequest) (*Graph, error) {
	if req.PluginID == "" {
		return nil, NewPermanentError("empty plugin ID", nil).
			WithCode(ErrCodeValidation)
	}

	expand := &expansion{
		builder: b,
		req:     req,
		byID:    make(map[string]*Node),
		byKey:   make(map[string]*Node),
		onPath:  make(map[string]bool),
	}

	root, err := expand.resolve(req.PluginID, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	if err := expand.expandDeclinedSubtrees(); err != nil {
		return nil, err
	}

	graph := &Graph{
		RootID: root.ID,
		Nodes:  expand.byID,
	}

	if err := b.checkArtifactConflicts(graph); err != nil {
		return nil, err
	}
	if err := b.computeLevels(graph); err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("plugin", req.PluginID).
		Int("nodes", graph.Len()).
		Int("levels", len(graph.Levels)).
		Msg("Execution graph built")

	return graph, nil
}

// expansion carries the state of one recursive graph expansion.
type expansion struct {
	builder *Builder
	req     *BuildRequest

	byID   map[string]*Node
	byKey  map[string]*Node
	onPath map[string]bool
	path   []string
}

// resolve materializes the node for one invocation, expanding its calls
// depth-first. Invocations with an equal plugin and parameter
// fingerprint collapse into the already-built node.
func (e *expansion) resolve(pluginID string, bindings map[string]string, parent params.Set, depth int) (*Node, error) {
	if depth > e.builder.maxDepth {
		return nil, NewPermanentError(
			fmt.Sprintf("call chain exceeds maximum depth %d", e.builder.maxDepth), nil).
			WithCode(ErrCodeDepthExceeded).
			WithPlugin(pluginID)
	}

	plugin, err := e.builder.store.Get(pluginID)
	if err != nil {
		return nil, NewPermanentError("unknown plugin", err).
			WithCode(ErrCodeUnknownPlugin).
			WithPlugin(pluginID)
	}

	if e.req.Declined[pluginID] {
		return e.declinedNode(plugin, depth), nil
	}

	set, err := params.Resolve(plugin, e.req.Params, bindings, parent)
	if err != nil {
		return nil, NewPermanentError("parameter resolution failed", err).
			WithCode(ErrCodeMissingParameter).
			WithPlugin(pluginID)
	}

	key := nodeKey(pluginID, set.Fingerprint())
	if e.onPath[key] {
		return nil, NewPermanentError(
			fmt.Sprintf("circular dependency detected: %s", e.formatCycle(key)), nil).
			WithCode(ErrCodeCycleDetected).
			WithPlugin(pluginID)
	}
	if existing, ok := e.byKey[key]; ok {
		return existing, nil
	}

	node := &Node{
		ID:          uuid.New().String(),
		Key:         key,
		PluginID:    pluginID,
		Plugin:      plugin,
		Params:      set,
		Fingerprint: set.Fingerprint(),
		Depth:       depth,
	}

	node.Artifacts, err = e.renderArtifacts(plugin, set)
	if err != nil {
		return nil, err
	}

	e.byID[node.ID] = node
	e.byKey[key] = node
	e.onPath[key] = true
	e.path = append(e.path, key)
	defer func() {
		e.onPath[key] = false
		e.path = e.path[:len(e.path)-1]
	}()

	calls, err := plugin.ParsedCalls()
	if err != nil {
		return nil, NewPermanentError("invalid call declaration", err).
			WithCode(ErrCodeValidation).
			WithPlugin(pluginID)
	}

	seen := make(map[string]bool, len(calls))
	for _, ref := range calls {
		child, err := e.resolve(ref.PluginID, ref.Bindings, set, depth+1)
		if err != nil {
			return nil, err
		}

		// A required call to a declined plugin fails the caller at
		// execution time, after its declined dependency is reported.
		if child.Declined && !ref.Optional && !slices.Contains(node.MissingDeps, ref.PluginID) {
			node.MissingDeps = append(node.MissingDeps, ref.PluginID)
		}

		// Two calls resolving to the same node are one edge. The
		// stricter (required) flag wins.
		if seen[child.ID] {
			if !ref.Optional {
				for i := range node.Deps {
					if node.Deps[i].NodeID == child.ID {
						node.Deps[i].Optional = false
					}
				}
			}
			continue
		}
		seen[child.ID] = true

		node.Deps = append(node.Deps, Dep{NodeID: child.ID, Optional: ref.Optional})
		child.Dependents = append(child.Dependents, node.ID)
	}

	return node, nil
}

// declinedNode returns the shared skip node for a declined plugin.
// Declined plugins do not resolve parameters or render artifacts; their
// call subtrees are expanded once the live graph is known.
func (e *expansion) declinedNode(plugin *manifest.Plugin, depth int) *Node {
	key := nodeKey(plugin.ID, "declined")
	if existing, ok := e.byKey[key]; ok {
		return existing
	}

	node := &Node{
		ID:       uuid.New().String(),
		Key:      key,
		PluginID: plugin.ID,
		Plugin:   plugin,
		Declined: true,
		Depth:    depth,
	}
	e.byID[node.ID] = node
	e.byKey[key] = node
	return node
}

// expandDeclinedSubtrees records the call subtrees reachable only
// through declined nodes, so an opted-out branch still shows up in the
// report. Plugins that also apply through a live path are left alone.
func (e *expansion) expandDeclinedSubtrees() error {
	live := make(map[string]bool)
	var declined []*Node
	for _, node := range e.byID {
		if node.Declined {
			declined = append(declined, node)
		} else {
			live[node.PluginID] = true
		}
	}

	for _, node := range declined {
		if err := e.expandDeclinedCalls(node, live); err != nil {
			return err
		}
	}
	return nil
}

func (e *expansion) expandDeclinedCalls(node *Node, live map[string]bool) error {
	calls, err := node.Plugin.ParsedCalls()
	if err != nil {
		return NewPermanentError("invalid call declaration", err).
			WithCode(ErrCodeValidation).
			WithPlugin(node.PluginID)
	}

	for _, ref := range calls {
		if live[ref.PluginID] {
			continue
		}

		key := nodeKey(ref.PluginID, "declined")
		child, ok := e.byKey[key]
		if !ok {
			plugin, err := e.builder.store.Get(ref.PluginID)
			if err != nil {
				return NewPermanentError("unknown plugin", err).
					WithCode(ErrCodeUnknownPlugin).
					WithPlugin(ref.PluginID)
			}
			child = e.declinedNode(plugin, node.Depth+1)
			if err := e.expandDeclinedCalls(child, live); err != nil {
				return err
			}
		}

		// Call cycles among declined plugins must not become edge cycles.
		if !hasDep(node, child.ID) && !e.dependsOn(child, node.ID) {
			node.Deps = append(node.Deps, Dep{NodeID: child.ID, Optional: true})
			child.Dependents = append(child.Dependents, node.ID)
		}
	}
	return nil
}

// dependsOn reports whether from transitively depends on targetID.
func (e *expansion) dependsOn(from *Node, targetID string) bool {
	for _, dep := range from.Deps {
		if dep.NodeID == targetID || e.dependsOn(e.byID[dep.NodeID], targetID) {
			return true
		}
	}
	return false
}

func hasDep(node *Node, id string) bool {
	for _, dep := range node.Deps {
		if dep.NodeID == id {
			return true
		}
	}
	return false
}

// renderArtifacts resolves target paths and renders artifact content for
// one node. Path containment is enforced here so an escaping path fails
// the whole run before any write.
func (e *expansion) renderArtifacts(plugin *manifest.Plugin, set params.Set) ([]*render.Artifact, error) {
	artifacts := make([]*render.Artifact, 0, len(plugin.Artifacts))
	for _, a := range plugin.Artifacts {
		rawPath, err := params.Substitute(plugin.ID, a.TargetPath, set)
		if err != nil {
			return nil, NewPermanentError("target path resolution failed", err).
				WithCode(ErrCodeMissingParameter).
				WithPlugin(plugin.ID)
		}

		cleanPath, err := target.Normalize(rawPath)
		if err != nil {
			var escape *target.PathEscapeError
			if errors.As(err, &escape) {
				return nil, NewPermanentError("artifact path escapes the target root", err).
					WithCode(ErrCodePathEscape).
					WithPlugin(plugin.ID).
					WithDetail("path", rawPath)
			}
			return nil, err
		}

		sectionID := a.SectionID
		if sectionID != "" {
			sectionID, err = params.Substitute(plugin.ID, sectionID, set)
			if err != nil {
				return nil, NewPermanentError("section ID resolution failed", err).
					WithCode(ErrCodeMissingParameter).
					WithPlugin(plugin.ID)
			}
		}

		rendered, err := render.Render(plugin, a, cleanPath, sectionID, set)
		if err != nil {
			return nil, NewPermanentError("artifact rendering failed", err).
				WithCode(ErrCodeValidation).
				WithPlugin(plugin.ID).
				WithDetail("target_path", cleanPath)
		}
		artifacts = append(artifacts, rendered)
	}
	return artifacts, nil
}

// formatCycle renders the current expansion path from the repeated key.
func (e *expansion) formatCycle(key string) string {
	start := 0
	for i, k := range e.path {
		if k == key {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, e.path[start:]...), key)
	return strings.Join(cycle, " -> ")
}

// checkArtifactConflicts rejects graphs where distinct nodes write
// conflicting content to the same target file. Appends compose; section
// merges compose unless two nodes claim the same section with different
// content; overwrites of one path by more than one node are only allowed
// when the content is identical.
func (b *Builder) checkArtifactConflicts(graph *Graph) error {
	type claim struct {
		node     *Node
		artifact *render.Artifact
	}
	byPath := make(map[string][]claim)

	for _, id := range sortedNodeIDs(graph) {
		node := graph.Nodes[id]
		for _, a := range node.Artifacts {
			byPath[a.TargetPath] = append(byPath[a.TargetPath], claim{node: node, artifact: a})
		}
	}

	for path, claims := range byPath {
		if len(claims) < 2 {
			continue
		}

		sections := make(map[string]claim)
		for _, c := range claims {
			switch c.artifact.Strategy {
			case manifest.MergeOverwrite:
				for _, other := range claims {
					if other.node.ID == c.node.ID {
						continue
					}
					if other.artifact.Strategy != manifest.MergeOverwrite ||
						!bytes.Equal(other.artifact.Content, c.artifact.Content) {
						return NewConflictError(
							fmt.Sprintf("plugins %s and %s write conflicting content to %s",
								c.node.PluginID, other.node.PluginID, path), nil).
							WithCode(ErrCodeArtifactConflict).
							WithPlugin(c.node.PluginID)
					}
				}
			case manifest.MergeSection:
				prev, ok := sections[c.artifact.SectionID]
				if !ok {
					sections[c.artifact.SectionID] = c
					continue
				}
				if prev.node.ID != c.node.ID && !bytes.Equal(prev.artifact.Content, c.artifact.Content) {
					return NewConflictError(
						fmt.Sprintf("plugins %s and %s both claim section %q in %s with different content",
							prev.node.PluginID, c.node.PluginID, c.artifact.SectionID, path), nil).
						WithCode(ErrCodeArtifactConflict).
						WithPlugin(c.node.PluginID)
				}
			}
		}
	}

	return nil
}

// computeLevels assigns topological levels using Kahn's algorithm.
// Nodes at the same level have no ordering constraints between them.
func (b *Builder) computeLevels(graph *Graph) error {
	inDegree := make(map[string]int, len(graph.Nodes))
	for id, node := range graph.Nodes {
		inDegree[id] = len(node.Deps)
	}

	currentLevel := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			currentLevel = append(currentLevel, id)
		}
	}
	if len(currentLevel) == 0 && len(graph.Nodes) > 0 {
		return NewPermanentError("no root nodes found", nil).
			WithCode(ErrCodeInternal)
	}

	processed := 0
	for len(currentLevel) > 0 {
		sortByKey(graph, currentLevel)

		for _, id := range currentLevel {
			graph.Nodes[id].Level = len(graph.Levels)
		}
		graph.Levels = append(graph.Levels, currentLevel)
		graph.Order = append(graph.Order, currentLevel...)
		processed += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, id := range currentLevel {
			for _, dependent := range graph.Nodes[id].Dependents {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	// Expansion already rejects cycles; a count mismatch here is a bug.
	if processed != len(graph.Nodes) {
		return NewPermanentError("failed to order all nodes", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

// ToDOT generates a Graphviz representation of the graph.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph InstallGraph {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			node := g.Nodes[id]
			label := node.PluginID
			if len(node.Params) > 0 {
				label = fmt.Sprintf("%s\\n%s", node.PluginID, node.Params.String())
			}
			style := "style=\"filled,rounded\", fillcolor=\"lightblue\""
			if node.Declined {
				style = "style=\"filled,rounded,dashed\", fillcolor=\"lightgray\""
			}
			if id == g.RootID {
				style = "style=\"filled,rounded\", fillcolor=\"lightgreen\""
			}
			fmt.Fprintf(&sb, "    %q [label=%q, %s];\n", id, label, style)
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range g.Order {
		node := g.Nodes[id]
		for _, dep := range node.Deps {
			style := "style=solid"
			if dep.Optional {
				style = "style=dashed"
			}
			fmt.Fprintf(&sb, "  %q -> %q [%s];\n", dep.NodeID, id, style)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func nodeKey(pluginID, fingerprint string) string {
	return pluginID + "@" + fingerprint
}

func sortedNodeIDs(graph *Graph) []string {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sortByKey(graph, ids)
	return ids
}

// sortByKey orders node IDs by their dedup key for deterministic output.
func sortByKey(graph *Graph, ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return graph.Nodes[ids[i]].Key < graph.Nodes[ids[j]].Key
	})
}
