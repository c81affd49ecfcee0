package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openscaffold/openscaffold/pkg/config"
	"github.com/openscaffold/openscaffold/pkg/engine"
	"github.com/openscaffold/openscaffold/pkg/policy"
	"github.com/openscaffold/openscaffold/pkg/predicate"
	"github.com/openscaffold/openscaffold/pkg/stores"
	"github.com/openscaffold/openscaffold/pkg/target"
	"github.com/openscaffold/openscaffold/pkg/telemetry"
)

type installFlags struct {
	params      []string
	declined    []string
	target      string
	preset      string
	dryRun      bool
	failFast    bool
	noState     bool
	concurrency int
}

func newInstallCommand() *cobra.Command {
	var flags installFlags

	cmd := &cobra.Command{
		Use:   "install PLUGIN|MANIFEST",
		Short: "Install a plugin and everything it builds on",
		Long: `Install a plugin into the target tree.

The argument is either a plugin ID from the configured plugin
directories or a path to a root manifest file.

This command:
  - Resolves the plugin's full dependency graph and parameters
  - Renders every artifact up front, so errors surface before any write
  - Gates the graph through policy checks
  - Applies artifacts dependency-first, independent branches in parallel
  - Skips work already done (applied_when checks, run history)
  - Prints a per-node summary and records the run`,
		Example: `  # Install the fullstack plugin into the current directory
  scaffold install fullstack

  # Install from a root manifest outside the plugin directories
  scaffold install ./manifests/fullstack/plugin.yaml

  # Bind parameters and see what would happen
  scaffold install fullstack --param PROJECT_NAME=api --dry-run

  # Install into a remote tree over SSH
  scaffold install fullstack --target ssh://deploy@host/srv/app

  # Opt out of an optional dependency
  scaffold install fullstack --decline docker`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.params, "param", "p", nil, "parameter binding KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&flags.declined, "decline", nil, "plugin ID to opt out of (repeatable)")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "target tree: path or ssh://user@host/path")
	cmd.Flags().StringVar(&flags.preset, "preset", "", "Starlark preset script computing parameters")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan every write without touching the target")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "stop dispatching after the first failure")
	cmd.Flags().BoolVar(&flags.noState, "no-state", false, "skip the execution log database")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "worker count (default from config)")

	return cmd
}

func runInstall(ctx context.Context, pluginRef string, flags installFlags) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	cfg := rt.cfg
	applyInstallFlags(cfg, flags)

	// A path argument names a root manifest; index it alongside the
	// configured plugin directories.
	pluginID := pluginRef
	if looksLikePath(pluginRef) {
		plugin, err := rt.store.LoadFile(pluginRef)
		if err != nil {
			return usageErr(err)
		}
		pluginID = plugin.ID
	}

	explicit, err := resolveParams(ctx, cfg, flags.params)
	if err != nil {
		return usageErr(err)
	}

	declined := cfg.DeclinedSet()
	for _, id := range flags.declined {
		declined[id] = true
	}

	metrics, tracer, err := setupTelemetry(cfg)
	if err != nil {
		return usageErr(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// Build the graph. Everything that can fail without touching the
	// target fails here.
	_, graphSpan := tracer.StartGraphSpan(ctx, pluginID)
	builder := engine.NewBuilder(rt.store, rt.logger)
	graph, err := builder.Build(&engine.BuildRequest{
		PluginID: pluginID,
		Params:   explicit,
		Declined: declined,
	})
	if err != nil {
		telemetry.RecordError(graphSpan, err)
		graphSpan.End()
		return usageErr(err)
	}
	telemetry.RecordSuccess(graphSpan)
	graphSpan.End()

	if err := gateGraph(ctx, rt, graph, cfg, flags.dryRun); err != nil {
		return err
	}

	fs, err := openTarget(cfg.Target)
	if err != nil {
		return usageErr(fmt.Errorf("failed to open target %s: %w", cfg.Target, err))
	}
	defer fs.Close()

	local := !strings.HasPrefix(cfg.Target, "ssh://")
	if local && !flags.dryRun {
		lock, err := target.AcquireRunLock(fs.Root())
		if err != nil {
			return usageErr(err)
		}
		defer func() { _ = lock.Release() }()
	}

	runID := uuid.New().String()
	store, err := openRunStore(ctx, cfg, flags.noState)
	if err != nil {
		return usageErr(err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	opts := engine.ExecutorOptions{
		Concurrency:  cfg.Concurrency,
		FailFast:     cfg.FailFast,
		DryRun:       flags.dryRun,
		CheckTimeout: cfg.CheckTimeout(),
		Metrics:      metrics,
		Tracer:       tracer,
	}
	if local {
		opts.Runner = &predicate.LocalRunner{Dir: fs.Root()}
	}
	if store != nil {
		opts.History = store
		// Dry runs read history but never write it.
		if !flags.dryRun {
			opts.Recorder = store
		}
	}

	if store != nil && !flags.dryRun {
		err = store.CreateRun(ctx, &stores.Run{
			ID:         runID,
			PluginID:   pluginID,
			TargetRoot: fs.Root(),
			Status:     stores.RunStatusRunning,
			StartedAt:  time.Now(),
		})
		if err != nil {
			return usageErr(fmt.Errorf("failed to record run: %w", err))
		}
	}

	metrics.RecordRunStarted(pluginID)
	runCtx, runSpan := tracer.StartRunSpan(ctx, runID, pluginID)
	started := time.Now()

	executor := engine.NewExecutor(fs, rt.logger, opts)
	report, err := executor.Run(runCtx, runID, graph)
	if err != nil {
		telemetry.RecordError(runSpan, err)
		runSpan.End()
		metrics.RecordRunCompleted(stores.RunStatusFailed, time.Since(started))
		finishRun(ctx, store, flags.dryRun, runID, stores.RunStatusFailed, err)
		return runFailedErr(err)
	}
	telemetry.RecordSuccess(runSpan)
	runSpan.End()
	metrics.RecordRunCompleted(string(report.Status), report.FinishedAt.Sub(report.StartedAt))
	finishRun(ctx, store, flags.dryRun, runID, string(report.Status), nil)

	if err := printReport(report); err != nil {
		return err
	}
	if report.ExitCode() != engine.ExitCodeSuccess {
		return runFailedErr(fmt.Errorf("run %s finished with failed nodes", runID))
	}
	return nil
}

// applyInstallFlags layers command-line flags over the loaded config.
func applyInstallFlags(cfg *config.RunConfig, flags installFlags) {
	if flags.target != "" {
		cfg.Target = flags.target
	}
	if flags.concurrency > 0 {
		cfg.Concurrency = flags.concurrency
	}
	if flags.failFast {
		cfg.FailFast = true
	}
	if flags.preset != "" {
		cfg.PresetPath = flags.preset
	}
}

// resolveParams layers parameter sources: config file, then preset
// script, then --param flags. Later layers win.
func resolveParams(ctx context.Context, cfg *config.RunConfig, paramFlags []string) (map[string]string, error) {
	merged := cfg.Params

	if cfg.PresetPath != "" {
		preset, err := config.NewPresetEvaluator(cfg.CheckTimeout()).
			EvalFile(ctx, cfg.PresetPath, cfg.Target)
		if err != nil {
			return nil, err
		}
		merged = config.MergeParams(merged, preset)
	}

	cli, err := parseParams(paramFlags)
	if err != nil {
		return nil, err
	}
	return config.MergeParams(merged, cli), nil
}

// setupTelemetry builds the metrics collector and tracer from config.
func setupTelemetry(cfg *config.RunConfig) (*telemetry.Metrics, *telemetry.Tracer, error) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       cfg.Telemetry.MetricsEnabled,
		ListenAddress: cfg.Telemetry.MetricsListen,
		Path:          "/metrics",
		Namespace:     "openscaffold",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Enabled:            cfg.Telemetry.TracingEnabled,
		Exporter:           cfg.Telemetry.TracingExporter,
		Endpoint:           cfg.Telemetry.TracingEndpoint,
		SamplingRate:       1.0,
		MaxExportBatchSize: 512,
		ExportTimeout:      30 * time.Second,
	}, "openscaffold", buildVersion, "cli")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	return metrics, tracer, nil
}

// gateGraph runs policy evaluation and blocks on error violations.
func gateGraph(ctx context.Context, rt *runtime, graph *engine.Graph, cfg *config.RunConfig, dryRun bool) error {
	policyEngine, err := policy.NewEngine(rt.logger)
	if err != nil {
		return usageErr(fmt.Errorf("failed to initialize policy engine: %w", err))
	}
	if len(cfg.PolicyDirs) > 0 {
		if err := policyEngine.LoadPolicies(ctx, cfg.PolicyDirs); err != nil {
			return usageErr(err)
		}
	}

	result, err := policyEngine.EvaluateGraph(ctx, graph, &policy.RunContext{
		Target: cfg.Target,
		DryRun: dryRun,
	})
	if err != nil {
		return usageErr(fmt.Errorf("policy evaluation failed: %w", err))
	}

	for _, v := range result.Violations {
		if v.Severity != policy.SeverityError {
			rt.logger.Warn().
				Str("policy", v.Policy).
				Str("node", v.Node).
				Msg(v.Message)
		}
	}
	if !result.Allowed {
		for _, v := range result.Blocking() {
			fmt.Fprintf(os.Stderr, "policy %s: %s\n", v.Policy, v.Message)
		}
		return usageErr(fmt.Errorf("blocked by %d policy violation(s)", len(result.Blocking())))
	}
	return nil
}

// openRunStore opens the execution log database, creating its directory
// on first use. Returns nil when state is disabled.
func openRunStore(ctx context.Context, cfg *config.RunConfig, noState bool) (*stores.SQLiteStore, error) {
	if noState || cfg.StatePath == "" {
		return nil, nil
	}

	if dir := filepath.Dir(cfg.StatePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func finishRun(ctx context.Context, store *stores.SQLiteStore, dryRun bool, runID, status string, runErr error) {
	if store == nil || dryRun {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	_ = store.FinishRun(ctx, runID, status, msg)
}

func printReport(report *engine.Report) error {
	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return runFailedErr(err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(report.Summary())
	for _, w := range report.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}
