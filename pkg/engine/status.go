package engine

// NodeStatus represents the lifecycle state of one invocation node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node is waiting on its dependencies.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusRunning indicates the node is being applied.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusApplied indicates the node's artifacts were written and
	// its blocking validations passed.
	NodeStatusApplied NodeStatus = "applied"

	// NodeStatusSkipped indicates the node did not apply; SkipReason says
	// why. Skips are not failures.
	NodeStatusSkipped NodeStatus = "skipped"

	// NodeStatusFailed indicates the node failed: an artifact write error
	// or a blocking validation failure.
	NodeStatusFailed NodeStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusApplied, NodeStatusSkipped, NodeStatusFailed:
		return true
	default:
		return false
	}
}

// SkipReason says why a skipped node did not apply.
type SkipReason string

const (
	// SkipAlreadyApplied indicates the node's idempotency predicates held
	// before application.
	SkipAlreadyApplied SkipReason = "already-applied"

	// SkipDeclined indicates the node's plugin was declined by an opt-out
	// decision.
	SkipDeclined SkipReason = "declined"

	// SkipDependencyFailed indicates a transitive dependency failed, so
	// the node never became eligible.
	SkipDependencyFailed SkipReason = "dependency-failed"

	// SkipRunAborted indicates the run stopped dispatching before the
	// node became eligible (fail-fast or cancellation).
	SkipRunAborted SkipReason = "run-aborted"
)

// RunStatus is the aggregate outcome of a run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every node applied or was benignly
	// skipped. Optional validation failures do not break success.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one node failed.
	RunStatusFailed RunStatus = "failed"
)

// ArtifactAction describes what a node's write did to one target file.
type ArtifactAction string

const (
	// ArtifactCreated indicates the target file did not exist before.
	ArtifactCreated ArtifactAction = "created"

	// ArtifactUpdated indicates the target file existed and its content
	// changed.
	ArtifactUpdated ArtifactAction = "updated"

	// ArtifactUnchanged indicates the merge produced identical content,
	// so no write happened.
	ArtifactUnchanged ArtifactAction = "unchanged"
)
