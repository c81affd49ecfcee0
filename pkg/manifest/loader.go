package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader loads and validates plugin manifests from YAML documents.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a new manifest loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
	}
}

// LoadFromFile loads a plugin manifest from a YAML file.
func (l *Loader) LoadFromFile(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	plugin, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	plugin.Path = path
	plugin.Dir = filepath.Dir(path)
	return plugin, nil
}

// LoadFromBytes loads a plugin manifest from raw YAML bytes.
func (l *Loader) LoadFromBytes(data []byte) (*Plugin, error) {
	var plugin Plugin
	if err := yaml.Unmarshal(data, &plugin); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := l.validate(&plugin); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &plugin, nil
}

// validate checks structural validity beyond what struct tags express.
func (l *Loader) validate(plugin *Plugin) error {
	if err := l.validator.Struct(plugin); err != nil {
		return err
	}

	if !pluginIDPattern.MatchString(plugin.ID) {
		return fmt.Errorf("invalid plugin id %q", plugin.ID)
	}

	seen := make(map[string]bool, len(plugin.Parameters))
	for _, p := range plugin.Parameters {
		if !paramNamePattern.MatchString(p.Name) {
			return fmt.Errorf("invalid parameter name %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}

	for i, a := range plugin.Artifacts {
		if err := a.Strategy.Validate(); err != nil {
			return fmt.Errorf("artifact %d: %w", i, err)
		}
		if a.Template == "" && a.Content == "" {
			return fmt.Errorf("artifact %d (%s): either template or content is required", i, a.TargetPath)
		}
		if a.Template != "" && a.Content != "" {
			return fmt.Errorf("artifact %d (%s): template and content are mutually exclusive", i, a.TargetPath)
		}
		if a.Strategy == MergeSection && a.SectionID == "" {
			return fmt.Errorf("artifact %d (%s): merge-section requires a section_id", i, a.TargetPath)
		}
		if a.Template != "" && filepath.IsAbs(a.Template) {
			return fmt.Errorf("artifact %d (%s): template path must be relative to the manifest directory", i, a.TargetPath)
		}
		if a.Mode != "" {
			if _, err := strconv.ParseUint(a.Mode, 8, 32); err != nil {
				return fmt.Errorf("artifact %d (%s): invalid mode %q", i, a.TargetPath, a.Mode)
			}
		}
	}

	for i, c := range plugin.Calls {
		ref, err := ParseInvoke(c.Invoke)
		if err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		if ref.PluginID == plugin.ID {
			return fmt.Errorf("call %d: plugin %q invokes itself", i, plugin.ID)
		}
	}

	names := make(map[string]bool, len(plugin.Validations))
	for i, v := range plugin.Validations {
		if err := v.Severity.Validate(); err != nil {
			return fmt.Errorf("validation %d (%s): %w", i, v.Name, err)
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate validation name %q", v.Name)
		}
		names[v.Name] = true
	}

	return nil
}

// ParsedCalls returns the plugin's calls parsed into CallRefs. The
// manifest is validated at load time, so parse failures here indicate a
// programming error.
func (p *Plugin) ParsedCalls() ([]CallRef, error) {
	refs := make([]CallRef, 0, len(p.Calls))
	for _, c := range p.Calls {
		ref, err := ParseInvoke(c.Invoke)
		if err != nil {
			return nil, err
		}
		ref.Optional = c.Optional
		refs = append(refs, *ref)
	}
	return refs, nil
}

// TemplateSource returns the artifact's template body, reading the
// template file relative to the manifest directory when the artifact is
// not inline.
func (p *Plugin) TemplateSource(a Artifact) (string, error) {
	if a.Content != "" {
		return a.Content, nil
	}

	path := filepath.Join(p.Dir, filepath.Clean(a.Template))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("plugin %s: failed to read template %s: %w", p.ID, a.Template, err)
	}
	return string(data), nil
}

// FileMode returns the artifact's file mode, defaulting to 0644.
func (a Artifact) FileMode() os.FileMode {
	if a.Mode == "" {
		return 0o644
	}
	mode, err := strconv.ParseUint(a.Mode, 8, 32)
	if err != nil {
		return 0o644
	}
	return os.FileMode(mode)
}
