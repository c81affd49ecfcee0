package policy

import (
	"time"

	"github.com/openscaffold/openscaffold/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"
)

// Policy is one Rego policy with its metadata.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for
	// built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy violation against a graph.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Node is the node key the violation refers to, when it refers to
	// one node.
	Node string `json:"node,omitempty"`

	// Path is the artifact path the violation refers to, if any.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all policies against a graph.
type Result struct {
	// Allowed is false when any error-severity violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists all violations, including warnings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the run,
	// such as a policy that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Blocking returns the error-severity violations.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// GraphInput is the JSON document policies evaluate against.
type GraphInput struct {
	Graph   *graphDoc   `json:"graph"`
	Context *RunContext `json:"context"`
}

// RunContext carries run-level facts into policy evaluation.
type RunContext struct {
	// Target is the target root.
	Target string `json:"target"`

	// DryRun indicates a dry run.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

type graphDoc struct {
	Root      string    `json:"root"`
	NodeCount int       `json:"node_count"`
	MaxDepth  int       `json:"max_depth"`
	Nodes     []nodeDoc `json:"nodes"`
}

type nodeDoc struct {
	Key       string            `json:"key"`
	PluginID  string            `json:"plugin_id"`
	Declined  bool              `json:"declined"`
	Depth     int               `json:"depth"`
	Params    map[string]string `json:"params"`
	Artifacts []artifactDoc     `json:"artifacts"`
}

type artifactDoc struct {
	Path     string `json:"path"`
	Strategy string `json:"strategy"`
	Section  string `json:"section,omitempty"`
	Mode     int    `json:"mode"`
}

// buildGraphInput flattens a graph into the policy input document.
func buildGraphInput(g *engine.Graph, rc *RunContext) *GraphInput {
	doc := &graphDoc{
		NodeCount: g.Len(),
	}
	if root, ok := g.Nodes[g.RootID]; ok {
		doc.Root = root.Key
	}

	for _, id := range g.Order {
		node := g.Nodes[id]
		nd := nodeDoc{
			Key:      node.Key,
			PluginID: node.PluginID,
			Declined: node.Declined,
			Depth:    node.Depth,
			Params:   node.Params.Values(),
		}
		if node.Depth > doc.MaxDepth {
			doc.MaxDepth = node.Depth
		}
		for _, a := range node.Artifacts {
			nd.Artifacts = append(nd.Artifacts, artifactDoc{
				Path:     a.TargetPath,
				Strategy: string(a.Strategy),
				Section:  a.SectionID,
				Mode:     int(a.Mode),
			})
		}
		doc.Nodes = append(doc.Nodes, nd)
	}

	return &GraphInput{Graph: doc, Context: rc}
}
