package policy

// BuiltinPolicies returns the policies compiled into the engine. They
// guard against graphs that are structurally legal but unsafe to apply.
func BuiltinPolicies() []*Policy {
	return []*Policy{
		protectedPathsPolicy(),
		worldWritablePolicy(),
		pluginNamingPolicy(),
		graphSizePolicy(),
	}
}

// protectedPathsPolicy blocks artifacts that write into version control
// metadata or well-known secret files.
func protectedPathsPolicy() *Policy {
	return &Policy{
		Name:        "protected-paths",
		Description: "Blocks artifact writes into VCS metadata and well-known secret files",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"paths", "safety"},
		Rego: `package scaffold.policies.paths

import rego.v1

protected_prefixes := [".git/", ".hg/", ".svn/"]

secret_patterns := [
	"(^|/)\\.env$",
	"(^|/)id_rsa$",
	"(^|/)id_ed25519$",
	"\\.pem$",
]

deny contains violation if {
	some node in input.graph.nodes
	some artifact in node.artifacts
	some prefix in protected_prefixes
	startswith(artifact.path, prefix)

	violation := {
		"message": sprintf("Plugin %s writes into protected directory: %s", [node.plugin_id, artifact.path]),
		"severity": "error",
		"node": node.key,
		"path": artifact.path,
	}
}

deny contains violation if {
	some node in input.graph.nodes
	some artifact in node.artifacts
	some pattern in secret_patterns
	regex.match(pattern, artifact.path)
	artifact.strategy == "overwrite"

	violation := {
		"message": sprintf("Plugin %s overwrites a likely secret file: %s", [node.plugin_id, artifact.path]),
		"severity": "error",
		"node": node.key,
		"path": artifact.path,
	}
}`,
	}
}

// worldWritablePolicy blocks artifacts created with world-writable
// modes.
func worldWritablePolicy() *Policy {
	return &Policy{
		Name:        "world-writable-mode",
		Description: "Blocks artifacts with world-writable file modes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"modes", "safety"},
		Rego: `package scaffold.policies.modes

import rego.v1

deny contains violation if {
	some node in input.graph.nodes
	some artifact in node.artifacts
	bits.and(artifact.mode, 2) != 0

	violation := {
		"message": sprintf("Artifact %s has world-writable mode %o", [artifact.path, artifact.mode]),
		"severity": "error",
		"node": node.key,
		"path": artifact.path,
	}
}`,
	}
}

// pluginNamingPolicy enforces plugin ID conventions.
func pluginNamingPolicy() *Policy {
	return &Policy{
		Name:        "plugin-naming",
		Description: "Enforces plugin ID conventions (lowercase, alphanumeric, hyphens)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package scaffold.policies.naming

import rego.v1

deny contains violation if {
	some node in input.graph.nodes
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", node.plugin_id)

	violation := {
		"message": sprintf("Plugin ID '%s' must be lowercase alphanumeric with inner hyphens", [node.plugin_id]),
		"severity": "error",
		"node": node.key,
	}
}`,
	}
}

// graphSizePolicy warns about unusually large graphs, which usually
// indicate a runaway parameter fan-out.
func graphSizePolicy() *Policy {
	return &Policy{
		Name:        "graph-size",
		Description: "Warns when a composition graph exceeds 64 nodes",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"graph", "limits"},
		Rego: `package scaffold.policies.size

import rego.v1

max_nodes := 64

deny contains violation if {
	input.graph.node_count > max_nodes

	violation := {
		"message": sprintf("Graph has %d nodes, more than %d; check plugin parameter fan-out", [input.graph.node_count, max_nodes]),
		"severity": "warning",
	}
}`,
	}
}
