// Package predicate evaluates the check expressions declared by plugin
// manifests: idempotency predicates (applied_when) and post-apply
// validations. Expressions are Starlark, evaluated in a sandboxed
// thread with a small set of builtins bound to the target tree. All
// builtins except cmd_ok are side-effect free.
package predicate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/openscaffold/openscaffold/pkg/render"
	"github.com/openscaffold/openscaffold/pkg/target"
)

// CommandRunner runs an external check command against the target. Used
// by the cmd_ok builtin; nil disables external checks.
type CommandRunner interface {
	// Run executes the command and returns nil when it exits zero.
	Run(ctx context.Context, command string) error
}

// Env is the evaluation environment for one node's checks.
type Env struct {
	// FS is the target tree the builtins read from.
	FS target.FS

	// Runner executes cmd_ok commands. When nil, cmd_ok fails with an
	// explanatory error.
	Runner CommandRunner
}

// Evaluator evaluates boolean check expressions with a bounded timeout.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates an evaluator. A zero timeout defaults to 30s,
// which also bounds cmd_ok subprocesses.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{timeout: timeout}
}

// EvalBool evaluates a single check expression to a boolean.
// Non-boolean results are an error, not a truthiness coercion.
func (e *Evaluator) EvalBool(ctx context.Context, expr string, env *Env) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "check",
		Print: func(_ *starlark.Thread, _ string) {
			// Checks have no output channel.
		},
	}

	// Cancel the starlark thread when the context expires.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel("check timeout")
		case <-done:
		}
	}()

	value, err := starlark.Eval(thread, "check.star", expr, e.builtins(evalCtx, env))
	if err != nil {
		return false, fmt.Errorf("check %q: %w", expr, err)
	}

	result, ok := value.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("check %q: expected a boolean result, got %s", expr, value.Type())
	}
	return bool(result), nil
}

// builtins constructs the predeclared environment for one evaluation.
func (e *Evaluator) builtins(ctx context.Context, env *Env) starlark.StringDict {
	return starlark.StringDict{
		"file_exists":     starlark.NewBuiltin("file_exists", env.builtinFileExists),
		"dir_exists":      starlark.NewBuiltin("dir_exists", env.builtinDirExists),
		"file_contains":   starlark.NewBuiltin("file_contains", env.builtinFileContains),
		"section_present": starlark.NewBuiltin("section_present", env.builtinSectionPresent),
		"cmd_ok":          starlark.NewBuiltin("cmd_ok", env.builtinCmdOK(ctx)),
	}
}

// builtinFileExists implements file_exists(path).
func (env *Env) builtinFileExists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	info, err := env.stat(path)
	if err != nil {
		return starlark.False, nil
	}
	return starlark.Bool(!info.IsDir()), nil
}

// builtinDirExists implements dir_exists(path).
func (env *Env) builtinDirExists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	info, err := env.stat(path)
	if err != nil {
		return starlark.False, nil
	}
	return starlark.Bool(info.IsDir()), nil
}

// builtinFileContains implements file_contains(path, substring).
func (env *Env) builtinFileContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, substring string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "substring", &substring); err != nil {
		return nil, err
	}

	data, err := env.FS.ReadFile(path)
	if err != nil {
		return starlark.False, nil
	}
	return starlark.Bool(bytes.Contains(data, []byte(substring))), nil
}

// builtinSectionPresent implements section_present(path, section_id):
// true when the file carries a merge-section block with the given ID.
func (env *Env) builtinSectionPresent(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, sectionID string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "section_id", &sectionID); err != nil {
		return nil, err
	}

	data, err := env.FS.ReadFile(path)
	if err != nil {
		return starlark.False, nil
	}
	_, found := render.ExtractSection(data, sectionID)
	return starlark.Bool(found), nil
}

// builtinCmdOK implements cmd_ok(command): true when the external check
// command exits zero. This is the one delegation point to a collaborator
// process; the run's check timeout bounds it.
func (env *Env) builtinCmdOK(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var command string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "command", &command); err != nil {
			return nil, err
		}
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("cmd_ok: empty command")
		}
		if env.Runner == nil {
			return nil, fmt.Errorf("cmd_ok: external checks are not available for this target")
		}

		if err := env.Runner.Run(ctx, command); err != nil {
			return starlark.False, nil
		}
		return starlark.True, nil
	}
}

func (env *Env) stat(path string) (interface{ IsDir() bool }, error) {
	info, err := env.FS.Stat(path)
	if err != nil {
		return nil, err
	}
	return info, nil
}
