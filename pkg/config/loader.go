package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// DefaultFileName is the conventional configuration file name.
const DefaultFileName = "scaffold.cue"

// schema constrains the scaffold section of a config file and supplies
// defaults. User files are unified against it, so an unknown field or a
// type mismatch surfaces as a CUE error with a file position.
const schema = `
#Config: {
	target:                string | *"."
	plugin_dirs:           [...string] | *["plugins"]
	params:                {[string]: string} | *{}
	declined:              [...string] | *[]
	concurrency:           int & >0 | *4
	fail_fast:             bool | *false
	check_timeout_seconds: int & >0 | *30
	state_path:            string | *".scaffold/state.db"
	policy_dirs:           [...string] | *[]
	preset_path:           string | *""

	telemetry: {
		log_level:        "trace" | "debug" | "info" | "warn" | "error" | "fatal" | *"info"
		log_format:       "console" | "json" | *"console"
		metrics_enabled:  bool | *false
		metrics_listen:   string | *":9090"
		tracing_enabled:  bool | *false
		tracing_exporter: "otlp" | "stdout" | "none" | *"stdout"
		tracing_endpoint: string | *"localhost:4317"
	}
}

scaffold: #Config
`

// ValidationError describes one problem found in a configuration file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// LoadError aggregates the validation errors from one load.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Loader parses and validates scaffold configuration files.
type Loader struct {
	ctx      *cue.Context
	validate *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		ctx:      cuecontext.New(),
		validate: validator.New(),
	}
}

// Load reads the CUE files at the given paths, unifies them with the
// schema, and decodes the scaffold section. Later files refine earlier
// ones; conflicting concrete values are an error, as usual in CUE.
// With no paths it returns Default().
func (l *Loader) Load(paths ...string) (*RunConfig, error) {
	if len(paths) == 0 {
		return Default(), nil
	}

	val := l.ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("internal schema error: %w", err)
	}

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		fileVal := l.ctx.CompileString(string(content), cue.Filename(path))
		if err := fileVal.Err(); err != nil {
			return nil, &LoadError{Errors: convertCUEErrors(err)}
		}
		val = val.Unify(fileVal)
	}

	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	return l.decode(val)
}

// LoadInline parses inline CUE content. Used by tests and by the
// --set-config flag.
func (l *Loader) LoadInline(content string) (*RunConfig, error) {
	val := l.ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("internal schema error: %w", err)
	}

	fileVal := l.ctx.CompileString(content, cue.Filename("inline"))
	if err := fileVal.Err(); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	val = val.Unify(fileVal)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	return l.decode(val)
}

func (l *Loader) decode(val cue.Value) (*RunConfig, error) {
	scaffoldVal := val.LookupPath(cue.ParsePath("scaffold"))
	if !scaffoldVal.Exists() {
		return nil, &LoadError{Errors: []ValidationError{{
			Path:    "scaffold",
			Message: "configuration has no scaffold section",
		}}}
	}

	cfg := &RunConfig{}
	if err := scaffoldVal.Decode(cfg); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}

	if err := l.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// convertCUEErrors flattens CUE's error list into positioned
// ValidationErrors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		var ve ValidationError
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Message = errors.Details(e, nil)
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
