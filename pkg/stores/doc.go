// Package stores persists the execution log: one row per run and one
// row per node outcome, in a local SQLite database. The log backs the
// history command and the history-based idempotency skip for plugins
// that declare no applied_when predicates.
package stores
