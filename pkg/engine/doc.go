// Package engine implements the plugin composition engine: it expands a
// requested plugin into a deduplicated execution graph, orders it so
// callees apply before their callers, and applies it to a target tree
// with bounded parallelism.
//
// The lifecycle of a run:
//
//  1. Build: Builder resolves parameters, renders artifacts, follows
//     calls, rejects cycles and conflicting writes, and computes
//     topological levels. Every build error surfaces before any write
//     reaches the target.
//  2. Apply: Executor dispatches eligible nodes to a worker pool. A
//     node is eligible once all of its dependencies are terminal. A
//     failed node prunes its transitive dependents; independent
//     branches keep going unless fail-fast is set.
//  3. Report: node outcomes aggregate into a Report with a stable
//     topological ordering and an exit code.
package engine
