package stores

import "time"

// Run is one recorded install run.
type Run struct {
	// ID is the run identifier (UUID).
	ID string `json:"id"`

	// PluginID is the requested root plugin.
	PluginID string `json:"plugin_id"`

	// TargetRoot is the target tree the run applied to.
	TargetRoot string `json:"target_root"`

	// Status is the run status: running, succeeded, or failed.
	Status string `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the run-level failure message, if any.
	Error *string `json:"error,omitempty"`
}

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// NodeRecord is one persisted node outcome.
type NodeRecord struct {
	// ID is the auto-generated record ID.
	ID int64 `json:"id"`

	// RunID is the owning run.
	RunID string `json:"run_id"`

	// NodeID is the node's ID within its run.
	NodeID string `json:"node_id"`

	// PluginID is the applied plugin.
	PluginID string `json:"plugin_id"`

	// Fingerprint is the node's parameter fingerprint.
	Fingerprint string `json:"fingerprint"`

	// Params is the resolved parameter set in "K=V K=V" form.
	Params string `json:"params,omitempty"`

	// Status is the node's terminal status.
	Status string `json:"status"`

	// SkipReason is set for skipped nodes.
	SkipReason string `json:"skip_reason,omitempty"`

	// Artifacts is the JSON-encoded artifact result list.
	Artifacts string `json:"artifacts,omitempty"`

	// Validations is the JSON-encoded validation result list.
	Validations string `json:"validations,omitempty"`

	// Error is the node failure message, if any.
	Error *string `json:"error,omitempty"`

	// Duration is the node's execution time.
	Duration time.Duration `json:"duration"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}
