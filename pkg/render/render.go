// Package render turns declared artifacts into concrete file content.
// Template bodies use the same {{PARAM}} placeholder grammar as
// target-path expressions; rendering is pure and deterministic.
package render

import (
	"os"

	"github.com/openscaffold/openscaffold/pkg/manifest"
	"github.com/openscaffold/openscaffold/pkg/params"
)

// Artifact is a fully rendered artifact ready to be written: resolved
// target path, concrete content, and the declared merge strategy.
type Artifact struct {
	// TargetPath is the resolved path, relative to the target root.
	TargetPath string `json:"target_path"`

	// Strategy is the declared merge strategy.
	Strategy manifest.MergeStrategy `json:"strategy"`

	// SectionID is the resolved section identifier for merge-section
	// artifacts, empty otherwise.
	SectionID string `json:"section_id,omitempty"`

	// Content is the rendered file content.
	Content []byte `json:"-"`

	// Mode is the file mode for newly created files.
	Mode os.FileMode `json:"-"`
}

// Render renders one declared artifact against a resolved parameter set.
// The target path must already be resolved by the caller (path
// resolution happens at graph-build time so path escapes fail the whole
// run before any write).
func Render(p *manifest.Plugin, a manifest.Artifact, targetPath, sectionID string, set params.Set) (*Artifact, error) {
	source, err := p.TemplateSource(a)
	if err != nil {
		return nil, err
	}

	content, err := params.Substitute(p.ID, source, set)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		TargetPath: targetPath,
		Strategy:   a.Strategy,
		SectionID:  sectionID,
		Content:    []byte(content),
		Mode:       a.FileMode(),
	}, nil
}
