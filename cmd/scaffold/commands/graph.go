package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscaffold/openscaffold/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		paramFlags   []string
		declineFlags []string
		format       string
	)

	cmd := &cobra.Command{
		Use:   "graph PLUGIN",
		Short: "Print the composition graph for a plugin",
		Long: `Build and print the full composition graph for a plugin without
applying anything. The DOT output renders with Graphviz.`,
		Example: `  # Render the graph with Graphviz
  scaffold graph fullstack | dot -Tsvg -o graph.svg

  # Inspect the resolved nodes as JSON
  scaffold graph fullstack --format json --param PROJECT_NAME=api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(args[0], paramFlags, declineFlags, format)
		},
	}

	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "parameter binding KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&declineFlags, "decline", nil, "plugin ID to opt out of (repeatable)")
	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot or json")

	return cmd
}

func runGraph(pluginID string, paramFlags, declineFlags []string, format string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	params, err := parseParams(paramFlags)
	if err != nil {
		return usageErr(err)
	}

	declined := rt.cfg.DeclinedSet()
	for _, id := range declineFlags {
		declined[id] = true
	}

	graph, err := engine.NewBuilder(rt.store, rt.logger).Build(&engine.BuildRequest{
		PluginID: pluginID,
		Params:   params,
		Declined: declined,
	})
	if err != nil {
		return usageErr(err)
	}

	switch format {
	case "dot":
		fmt.Print(graph.ToDOT())
	case "json":
		data, err := json.MarshalIndent(graph, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	default:
		return usageErr(fmt.Errorf("unknown format %q, expected dot or json", format))
	}
	return nil
}
