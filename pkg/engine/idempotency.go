package engine

import (
	"context"
	"fmt"

	"github.com/openscaffold/openscaffold/pkg/predicate"
)

// PriorRuns answers whether an equivalent invocation already applied to
// a target in an earlier run. The execution log store implements it;
// a nil PriorRuns disables history-based skipping.
type PriorRuns interface {
	// WasApplied reports whether a node with the given plugin and
	// parameter fingerprint previously applied to the target root.
	WasApplied(ctx context.Context, pluginID, fingerprint, targetRoot string) (bool, error)
}

// idempotencyChecker decides whether a node's effects are already
// present in the target tree.
//
// Manifest predicates are authoritative: when a plugin declares
// applied_when checks, the target tree decides, so a re-run repairs
// deleted files even if history says the plugin once applied. The run
// history is only consulted for plugins that declare no predicates.
type idempotencyChecker struct {
	eval    *predicate.Evaluator
	env     *predicate.Env
	history PriorRuns
	root    string
}

// alreadyApplied evaluates the node's idempotency decision.
func (c *idempotencyChecker) alreadyApplied(ctx context.Context, node *Node) (bool, error) {
	preds := node.Plugin.AppliedWhen
	if len(preds) > 0 {
		for _, expr := range preds {
			held, err := c.eval.EvalBool(ctx, expr, c.env)
			if err != nil {
				return false, NewPermanentError("idempotency check failed", err).
					WithCode(ErrCodeCheckFailed).
					WithPlugin(node.PluginID).
					WithDetail("check", expr)
			}
			if !held {
				return false, nil
			}
		}
		return true, nil
	}

	if c.history == nil {
		return false, nil
	}

	applied, err := c.history.WasApplied(ctx, node.PluginID, node.Fingerprint, c.root)
	if err != nil {
		return false, NewTransientError(
			fmt.Sprintf("failed to query run history for plugin %s", node.PluginID), err).
			WithCode(ErrCodeInternal)
	}
	return applied, nil
}
