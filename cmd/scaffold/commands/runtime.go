package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openscaffold/openscaffold/pkg/config"
	"github.com/openscaffold/openscaffold/pkg/engine"
	"github.com/openscaffold/openscaffold/pkg/manifest"
	"github.com/openscaffold/openscaffold/pkg/target"
	"github.com/openscaffold/openscaffold/pkg/telemetry"
)

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageErr wraps configuration and graph-construction failures: the run
// never started.
func usageErr(err error) error {
	return &exitError{code: engine.ExitCodeUsage, err: err}
}

// runFailedErr wraps a run that started and had failing nodes.
func runFailedErr(err error) error {
	return &exitError{code: engine.ExitCodeFailed, err: err}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return engine.ExitCodeSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return engine.ExitCodeUsage
}

// runtime is the shared command environment: resolved configuration,
// logging, and the loaded plugin store.
type runtime struct {
	cfg    *config.RunConfig
	tel    *telemetry.Logger
	logger zerolog.Logger
	store  *manifest.Store
}

// loadRuntime resolves configuration and loads plugin manifests. The
// config file comes from --config, or scaffold.cue in the working
// directory when present, or built-in defaults.
func loadRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, usageErr(err)
	}

	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      cfg.Telemetry.LogLevel,
		Format:     cfg.Telemetry.LogFormat,
		Output:     "stderr",
		TimeFormat: "rfc3339",
	})
	if err != nil {
		return nil, usageErr(fmt.Errorf("failed to configure logging: %w", err))
	}
	logger := tel.Zerolog()

	store := manifest.NewStore(logger)
	for _, dir := range cfg.PluginDirs {
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			logger.Debug().Str("dir", dir).Msg("Plugin directory absent, skipping")
			continue
		}
		if err := store.LoadDir(dir); err != nil {
			return nil, usageErr(fmt.Errorf("failed to load plugins from %s: %w", dir, err))
		}
	}

	return &runtime{
		cfg:    cfg,
		tel:    tel,
		logger: logger,
		store:  store,
	}, nil
}

func loadConfig() (*config.RunConfig, error) {
	loader := config.NewLoader()

	if configPath != "" {
		return loader.Load(configPath)
	}
	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return loader.Load(config.DefaultFileName)
	}
	return config.Default(), nil
}

// openTarget opens the target tree: an ssh:// URL dials a remote over
// SFTP, anything else is a local directory.
func openTarget(raw string) (target.FS, error) {
	if strings.HasPrefix(raw, "ssh://") {
		sshCfg, err := target.ParseSSHTarget(raw)
		if err != nil {
			return nil, err
		}
		return target.DialRemote(sshCfg)
	}
	return target.NewLocal(raw)
}

// parseParams parses repeated KEY=VALUE flags.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid parameter %q, expected KEY=VALUE", pair)
		}
		params[pair[:idx]] = pair[idx+1:]
	}
	return params, nil
}
