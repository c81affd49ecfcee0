// Package params implements parameter binding and resolution for plugin
// invocations. Resolution is pure: no I/O, deterministic for the same
// inputs.
package params

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Provenance records where a resolved parameter value came from.
type Provenance string

const (
	// ProvenanceExplicit marks a binding passed at this call site by the
	// top-level caller.
	ProvenanceExplicit Provenance = "explicit"

	// ProvenanceInherited marks a binding threaded through a parent
	// invocation's pass-through mapping.
	ProvenanceInherited Provenance = "inherited"

	// ProvenanceDefault marks a value taken from the manifest's own
	// declared default.
	ProvenanceDefault Provenance = "default"
)

// Binding is a single resolved key/value pair plus its provenance.
type Binding struct {
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Set is a fully resolved parameter set for one invocation. Every entry
// has exactly one value; there are no remaining defaults or placeholders.
type Set map[string]Binding

// Get returns the value for a parameter name.
func (s Set) Get(name string) (string, bool) {
	b, ok := s[name]
	return b.Value, ok
}

// Values flattens the set into a plain name→value map, e.g. for template
// rendering.
func (s Set) Values() map[string]string {
	values := make(map[string]string, len(s))
	for name, b := range s {
		values[name] = b.Value
	}
	return values
}

// Names returns the parameter names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint returns a stable digest of the set's name/value pairs.
// Two invocations of the same manifest with equal fingerprints are the
// same invocation for cycle-detection purposes; provenance does not
// participate.
func (s Set) Fingerprint() string {
	h := sha256.New()
	for _, name := range s.Names() {
		fmt.Fprintf(h, "%s\x00%s\x00", name, s[name].Value)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// String renders the set as "KEY=VALUE KEY=VALUE" in sorted order.
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, name := range s.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", name, s[name].Value))
	}
	return strings.Join(parts, " ")
}
