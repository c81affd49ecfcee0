package predicate

import (
	"context"
	"fmt"
	"os/exec"
)

// LocalRunner runs check commands through the shell in a local target
// root. Remote targets have no runner; their manifests must use the
// filesystem builtins instead.
type LocalRunner struct {
	// Dir is the working directory for check commands, normally the
	// target root.
	Dir string
}

// Run executes the command with `sh -c` and returns the exit error, if
// any. Output is discarded; checks communicate through the exit code.
func (r *LocalRunner) Run(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("check command %q: %w", command, err)
	}
	return nil
}
