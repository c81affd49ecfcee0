// Package policy gates composition graphs with Open Policy Agent. The
// engine flattens a built graph into a JSON document, evaluates the
// deny set of every registered Rego policy against it, and blocks the
// run on error-severity violations. Built-in policies cover protected
// paths, file modes, plugin naming, and graph size; users add more via
// .rego files in configured policy directories.
package policy
