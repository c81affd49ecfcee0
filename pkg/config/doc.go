// Package config loads scaffold run configuration from CUE files. The
// user file is unified against an embedded schema that supplies
// defaults and rejects unknown or mistyped fields with positioned
// errors. Starlark preset scripts can compute parameter bindings that
// explicit --param flags then override.
package config
