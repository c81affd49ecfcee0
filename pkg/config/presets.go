package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// PresetEvaluator executes Starlark preset scripts. A preset script
// computes parameter bindings programmatically; its top-level `params`
// dict (string keys and values) becomes the preset bindings. Scripts
// receive `target` and `env` so presets can branch on the target root
// or machine environment.
type PresetEvaluator struct {
	timeout time.Duration
}

// NewPresetEvaluator creates a preset evaluator. A zero timeout uses
// 30 seconds.
func NewPresetEvaluator(timeout time.Duration) *PresetEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &PresetEvaluator{timeout: timeout}
}

// EvalFile reads and evaluates the preset script at path.
func (pe *PresetEvaluator) EvalFile(ctx context.Context, path, targetRoot string) (map[string]string, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %s: %w", path, err)
	}
	return pe.Eval(ctx, path, string(script), targetRoot)
}

// Eval evaluates a preset script and returns its params dict.
func (pe *PresetEvaluator) Eval(ctx context.Context, name, script, targetRoot string) (map[string]string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, pe.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "preset",
		Print: func(_ *starlark.Thread, _ string) {
			// Presets are pure; print output is dropped.
		},
	}

	resultCh := make(chan map[string]string, 1)
	errCh := make(chan error, 1)

	go func() {
		params, err := pe.evalSync(thread, name, script, targetRoot)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- params
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("preset %s timed out after %v", name, pe.timeout)
	case err := <-errCh:
		return nil, err
	case params := <-resultCh:
		return params, nil
	}
}

func (pe *PresetEvaluator) evalSync(thread *starlark.Thread, name, script, targetRoot string) (map[string]string, error) {
	envDict := starlark.NewDict(len(os.Environ()))
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := envDict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
			return nil, err
		}
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"target": starlark.String(targetRoot),
		"env":    envDict,
	}

	globals, err := starlark.ExecFile(thread, name, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("preset execution failed: %w", err)
	}

	paramsVal, ok := globals["params"]
	if !ok {
		return nil, fmt.Errorf("preset %s defines no params dict", name)
	}
	dict, ok := paramsVal.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("preset %s: params must be a dict, got %s", name, paramsVal.Type())
	}

	params := make(map[string]string, dict.Len())
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("preset %s: params key must be a string, got %s", name, item[0].Type())
		}
		val, ok := item[1].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("preset %s: params[%q] must be a string, got %s", name, string(key), item[1].Type())
		}
		params[string(key)] = string(val)
	}

	return params, nil
}

// MergeParams layers explicit bindings over preset bindings. Explicit
// values win.
func MergeParams(preset, explicit map[string]string) map[string]string {
	merged := make(map[string]string, len(preset)+len(explicit))
	for k, v := range preset {
		merged[k] = v
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}
