package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openscaffold/openscaffold/pkg/predicate"
	"github.com/openscaffold/openscaffold/pkg/render"
	"github.com/openscaffold/openscaffold/pkg/target"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 4

// Recorder persists node outcomes as they complete. The execution log
// store implements it; a nil Recorder disables persistence.
type Recorder interface {
	RecordNode(ctx context.Context, runID string, result *NodeResult) error
}

// MetricsRecorder receives execution observations. The telemetry
// package implements it; a nil MetricsRecorder disables metrics.
type MetricsRecorder interface {
	ObserveNode(status string, duration time.Duration)
	ObserveArtifact(action string)
	ObserveValidation(severity string, passed bool)
}

// NodeTracer starts a span around one node execution. The telemetry
// tracer implements it; a nil NodeTracer disables per-node spans.
type NodeTracer interface {
	StartNodeSpan(ctx context.Context, nodeID, pluginID string) (context.Context, trace.Span)
}

// ExecutorOptions configures a run.
type ExecutorOptions struct {
	// Concurrency is the worker count. Defaults to DefaultConcurrency.
	Concurrency int

	// FailFast stops dispatching new nodes after the first blocking
	// failure. The default prunes only the failed node's dependents and
	// lets independent branches finish.
	FailFast bool

	// DryRun renders, merges, and plans every write without touching the
	// target tree. Validations do not run; checks for idempotency do.
	DryRun bool

	// CheckTimeout bounds each predicate evaluation.
	CheckTimeout time.Duration

	// Runner executes cmd_ok check commands. Nil for remote targets.
	Runner predicate.CommandRunner

	// History is the prior-run record used for history-based skipping.
	History PriorRuns

	// Recorder persists node outcomes.
	Recorder Recorder

	// Metrics receives execution observations.
	Metrics MetricsRecorder

	// Tracer starts per-node spans.
	Tracer NodeTracer
}

// Executor applies an execution graph to a target tree: dependencies
// first, independent nodes in parallel, one writer per path at a time.
type Executor struct {
	fs     target.FS
	opts   ExecutorOptions
	logger zerolog.Logger
}

// NewExecutor creates an executor for one target tree.
func NewExecutor(fs target.FS, logger zerolog.Logger, opts ExecutorOptions) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Executor{
		fs:     fs,
		opts:   opts,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// runState tracks per-node progress during a run. All mutation happens
// under mu; workers only read their own dequeued node.
type runState struct {
	mu        sync.Mutex
	graph     *Graph
	remaining map[string]int
	running   map[string]bool
	results   map[string]*NodeResult
	ready     chan *Node
	terminal  int
	aborted   bool
}

func (s *runState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Run applies the graph and returns the aggregate report. The returned
// error covers executor-level failures only; node failures are reported
// through the report's status and exit code.
func (e *Executor) Run(ctx context.Context, runID string, graph *Graph) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := &Report{
		RunID:      runID,
		TargetRoot: e.fs.Root(),
		DryRun:     e.opts.DryRun,
		StartedAt:  time.Now(),
	}
	if root, ok := graph.Nodes[graph.RootID]; ok {
		report.PluginID = root.PluginID
	}

	state := &runState{
		graph:     graph,
		remaining: make(map[string]int, graph.Len()),
		running:   make(map[string]bool),
		results:   make(map[string]*NodeResult, graph.Len()),
		ready:     make(chan *Node, graph.Len()),
	}
	for id, node := range graph.Nodes {
		state.remaining[id] = len(node.Deps)
	}

	eval := predicate.NewEvaluator(e.opts.CheckTimeout)
	env := &predicate.Env{FS: e.fs, Runner: e.opts.Runner}
	checker := &idempotencyChecker{eval: eval, env: env, history: e.opts.History, root: e.fs.Root()}
	validator := &validationRunner{eval: eval, env: env}
	locks := newPathLocks()

	// Seed the queue with nodes that have no dependencies.
	state.mu.Lock()
	for id, count := range state.remaining {
		if count == 0 {
			state.running[id] = true
			state.ready <- graph.Nodes[id]
		}
	}
	if graph.Len() == 0 {
		close(state.ready)
	}
	state.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range state.ready {
				var result *NodeResult
				if state.isAborted() {
					// Queued before the abort; do not start it.
					result = &NodeResult{
						NodeID:      node.ID,
						PluginID:    node.PluginID,
						Params:      node.Params.String(),
						Fingerprint: node.Fingerprint,
						Status:      NodeStatusSkipped,
						SkipReason:  SkipRunAborted,
					}
				} else {
					result = e.applyNode(ctx, node, checker, validator, locks)
				}
				e.observe(result)
				e.record(ctx, runID, result)
				e.finish(state, node, result)
			}
		}()
	}

	// Cancellation aborts dispatch; in-flight nodes finish.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			state.mu.Lock()
			e.abort(ctx, state, runID)
			state.mu.Unlock()
		case <-watchDone:
		}
	}()

	wg.Wait()
	close(watchDone)

	report.FinishedAt = time.Now()
	report.Status = RunStatusSucceeded
	for _, id := range graph.Order {
		result := state.results[id]
		if result == nil {
			// Unreachable unless dispatch logic is broken.
			result = &NodeResult{
				NodeID:   id,
				PluginID: graph.Nodes[id].PluginID,
				Status:   NodeStatusSkipped,
			}
		}
		if result.Status == NodeStatusFailed {
			report.Status = RunStatusFailed
		}
		report.Nodes = append(report.Nodes, *result)
	}

	return report, nil
}

// finish integrates one completed node: failed nodes poison their
// dependents, successful ones release them.
func (e *Executor) finish(state *runState, node *Node, result *NodeResult) {
	state.mu.Lock()
	defer state.mu.Unlock()

	delete(state.running, node.ID)
	e.complete(state, node.ID, result)

	if result.Status == NodeStatusFailed {
		e.prune(state, node)
		if e.opts.FailFast && !state.aborted {
			state.aborted = true
			e.skipPending(state, SkipRunAborted)
		}
	} else {
		for _, dependentID := range node.Dependents {
			if _, done := state.results[dependentID]; done {
				continue
			}
			state.remaining[dependentID]--
			if state.remaining[dependentID] == 0 && !state.aborted {
				state.running[dependentID] = true
				state.ready <- state.graph.Nodes[dependentID]
			}
		}
	}
}

// complete stores a result and closes the queue once every node is
// terminal. Caller holds state.mu.
func (e *Executor) complete(state *runState, nodeID string, result *NodeResult) {
	if _, done := state.results[nodeID]; done {
		return
	}
	state.results[nodeID] = result
	state.terminal++
	if state.terminal == state.graph.Len() {
		close(state.ready)
	}
}

// prune marks the transitive dependents of a failed node as skipped.
// Caller holds state.mu.
func (e *Executor) prune(state *runState, failed *Node) {
	queue := append([]string{}, failed.Dependents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := state.results[id]; done {
			continue
		}
		if state.running[id] {
			continue
		}

		node := state.graph.Nodes[id]
		e.logger.Debug().
			Str("plugin", node.PluginID).
			Str("cause", failed.PluginID).
			Msg("Skipping node after dependency failure")

		e.complete(state, id, &NodeResult{
			NodeID:      id,
			PluginID:    node.PluginID,
			Params:      node.Params.String(),
			Fingerprint: node.Fingerprint,
			Status:      NodeStatusSkipped,
			SkipReason:  SkipDependencyFailed,
		})
		queue = append(queue, node.Dependents...)
	}
}

// skipPending marks every node that is neither terminal nor running as
// skipped. Caller holds state.mu.
func (e *Executor) skipPending(state *runState, reason SkipReason) {
	for id, node := range state.graph.Nodes {
		if _, done := state.results[id]; done {
			continue
		}
		if state.running[id] {
			continue
		}
		e.complete(state, id, &NodeResult{
			NodeID:      id,
			PluginID:    node.PluginID,
			Params:      node.Params.String(),
			Fingerprint: node.Fingerprint,
			Status:      NodeStatusSkipped,
			SkipReason:  reason,
		})
	}
}

// abort handles context cancellation. Caller holds state.mu.
func (e *Executor) abort(ctx context.Context, state *runState, runID string) {
	if state.aborted {
		return
	}
	state.aborted = true
	e.logger.Warn().Str("run_id", runID).AnErr("cause", ctx.Err()).Msg("Run aborted")
	e.skipPending(state, SkipRunAborted)
}

// applyNode executes one node end to end: idempotency check, artifact
// writes, post-apply validations.
func (e *Executor) applyNode(
	ctx context.Context,
	node *Node,
	checker *idempotencyChecker,
	validator *validationRunner,
	locks *pathLocks,
) *NodeResult {
	started := time.Now()
	result := &NodeResult{
		NodeID:      node.ID,
		PluginID:    node.PluginID,
		Params:      node.Params.String(),
		Fingerprint: node.Fingerprint,
	}
	defer func() { result.Duration = time.Since(started) }()

	logger := e.logger.With().Str("plugin", node.PluginID).Logger()

	if e.opts.Tracer != nil {
		var span trace.Span
		ctx, span = e.opts.Tracer.StartNodeSpan(ctx, node.ID, node.PluginID)
		defer func() {
			if result.Status == NodeStatusFailed {
				span.SetStatus(codes.Error, result.Error)
			} else {
				span.SetStatus(codes.Ok, string(result.Status))
			}
			span.End()
		}()
	}

	if node.Declined {
		result.Status = NodeStatusSkipped
		result.SkipReason = SkipDeclined
		logger.Info().Msg("Plugin declined, skipping")
		return result
	}

	if len(node.MissingDeps) > 0 {
		result.Status = NodeStatusFailed
		result.Error = NewPermanentError(
			fmt.Sprintf("required dependency declined: %s", strings.Join(node.MissingDeps, ", ")), nil).
			WithCode(ErrCodeMissingOptionalDependency).
			WithPlugin(node.PluginID).
			Error()
		logger.Error().Strs("declined", node.MissingDeps).Msg("Required dependency was declined")
		return result
	}

	applied, err := checker.alreadyApplied(ctx, node)
	if err != nil {
		result.Status = NodeStatusFailed
		result.Error = err.Error()
		logger.Error().Err(err).Msg("Idempotency check failed")
		return result
	}
	if applied {
		// An already-applied node must still hold up to its validations.
		result.SkipReason = SkipAlreadyApplied
		if !e.opts.DryRun && e.validateNode(ctx, node, result, validator, logger) {
			return result
		}
		result.Status = NodeStatusSkipped
		logger.Info().Msg("Already applied, skipping")
		return result
	}

	for _, artifact := range node.Artifacts {
		action, err := e.writeArtifact(artifact, locks)
		if err != nil {
			result.Status = NodeStatusFailed
			result.Error = NewPermanentError("artifact write failed", err).
				WithCode(ErrCodeArtifactWrite).
				WithPlugin(node.PluginID).
				Error()
			logger.Error().Err(err).Str("path", artifact.TargetPath).Msg("Artifact write failed")
			return result
		}
		result.Artifacts = append(result.Artifacts, ArtifactResult{
			Path:     artifact.TargetPath,
			Strategy: artifact.Strategy,
			Action:   action,
		})
	}

	if !e.opts.DryRun && e.validateNode(ctx, node, result, validator, logger) {
		return result
	}

	result.Status = NodeStatusApplied
	logger.Info().
		Int("artifacts", len(result.Artifacts)).
		Bool("dry_run", e.opts.DryRun).
		Msg("Plugin applied")
	return result
}

// validateNode runs the node's checks and fails the result on a
// blocking failure. Returns true when the node failed.
func (e *Executor) validateNode(
	ctx context.Context,
	node *Node,
	result *NodeResult,
	validator *validationRunner,
	logger zerolog.Logger,
) bool {
	results, blocked := validator.run(ctx, node)
	result.Validations = results
	if !blocked {
		return false
	}

	result.Status = NodeStatusFailed
	result.SkipReason = ""
	result.Error = NewPermanentError(
		fmt.Sprintf("blocking validation failed: %s", failedNames(results)), nil).
		WithCode(ErrCodeValidationFailure).
		WithPlugin(node.PluginID).
		Error()
	logger.Error().Str("checks", failedNames(results)).Msg("Blocking validation failed")
	return true
}

// writeArtifact performs one locked read-merge-write cycle. In dry-run
// mode the merge still runs so the planned action is accurate, but
// nothing is written.
func (e *Executor) writeArtifact(artifact *render.Artifact, locks *pathLocks) (ArtifactAction, error) {
	release := locks.acquire(artifact.TargetPath)
	defer release()

	exists, err := target.Exists(e.fs, artifact.TargetPath)
	if err != nil {
		return "", err
	}

	var existing []byte
	if exists {
		existing, err = e.fs.ReadFile(artifact.TargetPath)
		if err != nil {
			return "", err
		}
	}

	merged, err := render.Merge(existing, artifact)
	if err != nil {
		return "", err
	}

	action := ArtifactCreated
	switch {
	case exists && bytes.Equal(existing, merged):
		return ArtifactUnchanged, nil
	case exists:
		action = ArtifactUpdated
	}

	if e.opts.DryRun {
		return action, nil
	}
	if err := e.fs.WriteFile(artifact.TargetPath, merged, artifact.Mode); err != nil {
		return "", err
	}
	return action, nil
}

func (e *Executor) observe(result *NodeResult) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.ObserveNode(string(result.Status), result.Duration)
	for _, a := range result.Artifacts {
		e.opts.Metrics.ObserveArtifact(string(a.Action))
	}
	for _, v := range result.Validations {
		e.opts.Metrics.ObserveValidation(string(v.Severity), v.Passed)
	}
}

func (e *Executor) record(ctx context.Context, runID string, result *NodeResult) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.RecordNode(ctx, runID, result); err != nil {
		e.logger.Warn().Err(err).Str("plugin", result.PluginID).Msg("Failed to record node result")
	}
}

func failedNames(results []ValidationResult) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		if r.Failed() {
			names = append(names, r.Name)
		}
	}
	return strings.Join(names, ", ")
}
