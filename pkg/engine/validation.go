package engine

import (
	"context"

	"github.com/openscaffold/openscaffold/pkg/predicate"
)

// validationRunner evaluates a node's post-apply checks against the
// materialized target tree.
type validationRunner struct {
	eval *predicate.Evaluator
	env  *predicate.Env
}

// run evaluates every declared validation and reports whether any
// blocking check failed. Checks are side-effect free, so evaluation
// order does not matter; all checks run even after a blocking failure
// so the report shows the complete picture.
func (r *validationRunner) run(ctx context.Context, node *Node) ([]ValidationResult, bool) {
	results := make([]ValidationResult, 0, len(node.Plugin.Validations))
	blocked := false

	for _, v := range node.Plugin.Validations {
		result := ValidationResult{
			Name:     v.Name,
			Severity: v.Severity,
		}

		passed, err := r.eval.EvalBool(ctx, v.Check, r.env)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Passed = passed
		}

		if result.Failed() {
			blocked = true
		}
		results = append(results, result)
	}

	return results, blocked
}
