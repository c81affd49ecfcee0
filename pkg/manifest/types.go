package manifest

import (
	"fmt"
)

// MergeStrategy controls how an artifact is written into a possibly
// pre-existing target file.
type MergeStrategy string

const (
	// MergeOverwrite replaces the target file completely.
	MergeOverwrite MergeStrategy = "overwrite"

	// MergeAppend appends the rendered content to the target file.
	// Used for files like ignore-pattern lists.
	MergeAppend MergeStrategy = "append"

	// MergeSection inserts or replaces a delimited block inside an
	// existing file, keyed by the artifact's section ID.
	MergeSection MergeStrategy = "merge-section"
)

// Validate checks if the merge strategy is valid.
func (m MergeStrategy) Validate() error {
	switch m {
	case MergeOverwrite, MergeAppend, MergeSection:
		return nil
	default:
		return fmt.Errorf("invalid merge strategy: %s", m)
	}
}

// Severity classifies a validation check.
type Severity string

const (
	// SeverityBlocking marks a validation whose failure fails the node
	// and prunes its dependents.
	SeverityBlocking Severity = "blocking"

	// SeverityOptional marks a validation whose failure only produces
	// a warning in the aggregate report.
	SeverityOptional Severity = "optional"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityBlocking, SeverityOptional:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// Plugin is the static description of one installable capability unit.
// It is immutable once loaded and owned exclusively by the Store.
type Plugin struct {
	// ID is the unique plugin identifier (e.g. "python-core").
	ID string `yaml:"id" validate:"required,min=1"`

	// Description is a human-readable summary of what the plugin installs.
	Description string `yaml:"description,omitempty"`

	// Parameters declares the configurable parameters of this plugin.
	Parameters []Parameter `yaml:"parameters,omitempty" validate:"dive"`

	// Artifacts declares the files this plugin produces in the target tree.
	Artifacts []Artifact `yaml:"artifacts,omitempty" validate:"dive"`

	// Calls declares other plugins this plugin invokes, in invoke-grammar
	// form ("invoke <pluginId> [with KEY=VALUE]*").
	Calls []Call `yaml:"calls,omitempty" validate:"dive"`

	// Validations declares post-apply checks.
	Validations []Validation `yaml:"validations,omitempty" validate:"dive"`

	// AppliedWhen declares idempotency predicates. When every predicate
	// holds against the target tree, the plugin's effects are considered
	// already present and application is skipped.
	AppliedWhen []string `yaml:"applied_when,omitempty"`

	// Dir is the directory the manifest was loaded from. Template paths
	// are resolved relative to it. Set by the loader, not the document.
	Dir string `yaml:"-"`

	// Path is the manifest file path. Set by the loader.
	Path string `yaml:"-"`
}

// Parameter declares one configurable parameter with an optional default.
type Parameter struct {
	// Name is the parameter name (e.g. "INSTALL_PATH").
	Name string `yaml:"name" validate:"required,min=1"`

	// Default is the manifest's fallback value. A nil default means the
	// parameter must be bound by the caller or an inherited binding.
	Default *string `yaml:"default,omitempty"`

	// Description documents the parameter for operators.
	Description string `yaml:"description,omitempty"`
}

// Required reports whether the parameter has no declared default.
func (p Parameter) Required() bool {
	return p.Default == nil
}

// Artifact declares one file the plugin writes into the target tree.
type Artifact struct {
	// Template is the template source path, relative to the manifest
	// directory. Mutually exclusive with Content.
	Template string `yaml:"template,omitempty"`

	// Content is an inline template body. Mutually exclusive with Template.
	Content string `yaml:"content,omitempty"`

	// TargetPath is the target-path expression, relative to the target
	// root. May contain {{PARAM}} placeholders.
	TargetPath string `yaml:"target_path" validate:"required,min=1"`

	// Strategy is the merge strategy for the target file.
	Strategy MergeStrategy `yaml:"strategy" validate:"required"`

	// SectionID identifies the delimited block for merge-section
	// artifacts. May contain {{PARAM}} placeholders. Required when
	// Strategy is merge-section.
	SectionID string `yaml:"section_id,omitempty"`

	// Mode is the file mode for newly created files, in octal string
	// form (e.g. "0755"). Defaults to 0644.
	Mode string `yaml:"mode,omitempty"`
}

// Call declares one nested plugin invocation.
type Call struct {
	// Invoke is the call in invoke-grammar form:
	// "invoke <pluginId> [with KEY=VALUE]*". Binding values may contain
	// {{PARAM}} placeholders resolved against the caller's parameters.
	Invoke string `yaml:"invoke" validate:"required,min=1"`

	// Optional marks the relationship as optional: if the callee is
	// declined by an upstream opt-out decision, this caller is
	// unaffected. A required (non-optional) caller of a declined callee
	// fails with a missing-optional-dependency error.
	Optional bool `yaml:"optional,omitempty"`
}

// Validation declares one post-apply check.
type Validation struct {
	// Name identifies the check in reports and error messages.
	Name string `yaml:"name" validate:"required,min=1"`

	// Check is the side-effect-free predicate expression, evaluated
	// against the materialized target tree.
	Check string `yaml:"check" validate:"required,min=1"`

	// Severity is blocking or optional.
	Severity Severity `yaml:"severity" validate:"required"`
}

// CallRef is a parsed Call: the callee plugin ID plus its
// parameter-binding expressions.
type CallRef struct {
	// PluginID is the callee plugin ID.
	PluginID string

	// Bindings maps parameter names to binding expressions. Values may
	// contain {{PARAM}} placeholders.
	Bindings map[string]string

	// Optional carries the Call's optional flag.
	Optional bool
}
