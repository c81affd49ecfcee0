package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Invoke grammar:
//
//	invoke <pluginId> [with KEY=VALUE]*
//
// VALUE may be bare (no whitespace) or double-quoted. The same grammar is
// used for the top-level entry point and for calls[] entries inside a
// manifest.

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-.][a-z0-9]+)*$`)

var paramNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseInvoke parses an invoke-grammar string into a CallRef.
func ParseInvoke(s string) (*CallRef, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	if len(tokens) < 2 || tokens[0] != "invoke" {
		return nil, fmt.Errorf("invalid invocation %q: expected \"invoke <pluginId> [with KEY=VALUE]*\"", s)
	}

	ref := &CallRef{
		PluginID: tokens[1],
		Bindings: make(map[string]string),
	}

	if !pluginIDPattern.MatchString(ref.PluginID) {
		return nil, fmt.Errorf("invalid plugin id %q in invocation", ref.PluginID)
	}

	rest := tokens[2:]
	if len(rest) == 0 {
		return ref, nil
	}

	if rest[0] != "with" {
		return nil, fmt.Errorf("invalid invocation %q: expected \"with\" after plugin id, got %q", s, rest[0])
	}

	bindings := rest[1:]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("invalid invocation %q: \"with\" requires at least one KEY=VALUE binding", s)
	}

	for _, b := range bindings {
		key, value, ok := strings.Cut(b, "=")
		if !ok {
			return nil, fmt.Errorf("invalid binding %q in invocation %q: expected KEY=VALUE", b, s)
		}
		if !paramNamePattern.MatchString(key) {
			return nil, fmt.Errorf("invalid parameter name %q in invocation %q", key, s)
		}
		if _, dup := ref.Bindings[key]; dup {
			return nil, fmt.Errorf("duplicate binding %q in invocation %q", key, s)
		}
		ref.Bindings[key] = value
	}

	return ref, nil
}

// FormatInvoke renders a CallRef back into invoke-grammar form with
// bindings in sorted order.
func FormatInvoke(ref *CallRef) string {
	var sb strings.Builder
	sb.WriteString("invoke ")
	sb.WriteString(ref.PluginID)

	if len(ref.Bindings) > 0 {
		sb.WriteString(" with")
		for _, key := range sortedKeys(ref.Bindings) {
			value := ref.Bindings[key]
			sb.WriteString(" ")
			sb.WriteString(key)
			sb.WriteString("=")
			if strings.ContainsAny(value, " \t\"") {
				sb.WriteString(fmt.Sprintf("%q", value))
			} else {
				sb.WriteString(value)
			}
		}
	}

	return sb.String()
}

// tokenize splits an invocation string on whitespace, honoring double
// quotes inside KEY=VALUE tokens.
func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case (r == ' ' || r == '\t') && !inQuotes:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}

	if inQuotes {
		return nil, fmt.Errorf("unterminated quote in invocation %q", s)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}

	return tokens, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
