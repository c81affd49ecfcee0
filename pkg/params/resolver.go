package params

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openscaffold/openscaffold/pkg/manifest"
)

// placeholderPattern matches {{PARAM}} tokens inside target-path and
// call-binding expressions.
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// MissingParameterError reports a parameter the plugin references that
// has neither an explicit or inherited override nor a manifest default.
type MissingParameterError struct {
	PluginID  string
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("plugin %s: parameter %s has no binding and no default", e.PluginID, e.Parameter)
}

// UnresolvedPlaceholderError reports a {{PARAM}} token left over after
// substitution. Unresolved placeholders are an error, never emitted
// verbatim.
type UnresolvedPlaceholderError struct {
	PluginID    string
	Expression  string
	Placeholder string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("plugin %s: unresolved placeholder {{%s}} in %q", e.PluginID, e.Placeholder, e.Expression)
}

// Resolve computes the effective parameter set for one invocation of a
// plugin. Precedence, highest to lowest: explicit binding at this call
// site, binding inherited from the parent invocation, the manifest's own
// default.
//
// Binding values may themselves contain {{PARAM}} placeholders; they are
// substituted against the parent's resolved set before precedence is
// applied, so pass-through expressions like INSTALL_PATH={{APP_ROOT}}/api
// resolve at the edge they are declared on.
func Resolve(m *manifest.Plugin, explicit, inherited map[string]string, parent Set) (Set, error) {
	resolved := make(Set, len(m.Parameters))

	for _, param := range m.Parameters {
		switch {
		case hasKey(explicit, param.Name):
			value, err := substituteAgainst(m.ID, explicit[param.Name], parent)
			if err != nil {
				return nil, err
			}
			resolved[param.Name] = Binding{Name: param.Name, Value: value, Provenance: ProvenanceExplicit}

		case hasKey(inherited, param.Name):
			value, err := substituteAgainst(m.ID, inherited[param.Name], parent)
			if err != nil {
				return nil, err
			}
			resolved[param.Name] = Binding{Name: param.Name, Value: value, Provenance: ProvenanceInherited}

		case param.Default != nil:
			resolved[param.Name] = Binding{Name: param.Name, Value: *param.Default, Provenance: ProvenanceDefault}

		default:
			return nil, &MissingParameterError{PluginID: m.ID, Parameter: param.Name}
		}
	}

	return resolved, nil
}

// Substitute replaces every {{PARAM}} token in expr with the resolved
// value from the set. A token naming a parameter absent from the set is
// an UnresolvedPlaceholderError.
func Substitute(pluginID, expr string, set Set) (string, error) {
	return substituteAgainst(pluginID, expr, set)
}

func substituteAgainst(pluginID, expr string, set Set) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(expr, func(token string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(token, "{{"), "}}")
		if value, ok := set.Get(name); ok {
			return value
		}
		if missing == "" {
			missing = name
		}
		return token
	})

	if missing != "" {
		return "", &UnresolvedPlaceholderError{
			PluginID:    pluginID,
			Expression:  expr,
			Placeholder: missing,
		}
	}
	return out, nil
}

func hasKey(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}
