package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscaffold/openscaffold/pkg/engine"
	"github.com/openscaffold/openscaffold/pkg/manifest"
)

func newDevCommand() *cobra.Command {
	var (
		pluginID   string
		paramFlags []string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch plugin directories and re-validate on change",
		Long: `Watch the configured plugin directories and re-index manifests on
every change. With --plugin, the full composition graph for that
plugin is rebuilt after each reload, so parameter mistakes, cycles,
and artifact conflicts surface while you edit.`,
		Example: `  # Re-validate manifests on save
  scaffold dev

  # Keep the fullstack graph building while editing its plugins
  scaffold dev --plugin fullstack --param PROJECT_NAME=api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd.Context(), pluginID, paramFlags)
		},
	}

	cmd.Flags().StringVar(&pluginID, "plugin", "", "rebuild this plugin's graph after each reload")
	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "parameter binding KEY=VALUE (repeatable)")

	return cmd
}

func runDev(ctx context.Context, pluginID string, paramFlags []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	params, err := parseParams(paramFlags)
	if err != nil {
		return usageErr(err)
	}

	check := func() {
		if pluginID == "" {
			fmt.Printf("ok: %d plugin(s) indexed\n", rt.store.Len())
			return
		}
		graph, err := engine.NewBuilder(rt.store, rt.logger).Build(&engine.BuildRequest{
			PluginID: pluginID,
			Params:   params,
			Declined: rt.cfg.DeclinedSet(),
		})
		if err != nil {
			fmt.Printf("graph error: %v\n", err)
			return
		}
		fmt.Printf("ok: graph for %s has %d node(s)\n", pluginID, graph.Len())
	}
	check()

	watcher := manifest.NewWatcher(rt.store, rt.cfg.PluginDirs, rt.logger)
	return watcher.Watch(ctx, func(reloadErr error) {
		if reloadErr != nil {
			fmt.Printf("manifest error: %v\n", reloadErr)
			return
		}
		check()
	})
}
