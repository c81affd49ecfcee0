package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List available plugins",
		Long: `List every plugin found in the configured plugin directories,
with its parameters and the plugins it calls.`,
		Example: `  scaffold plugins
  scaffold plugins --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugins()
		},
	}
	return cmd
}

func runPlugins() error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	plugins := rt.store.List()

	if jsonOutput {
		data, err := json.MarshalIndent(plugins, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(plugins) == 0 {
		fmt.Println("no plugins found")
		return nil
	}

	for _, p := range plugins {
		fmt.Printf("%s\n", p.ID)
		if p.Description != "" {
			fmt.Printf("    %s\n", p.Description)
		}
		if len(p.Parameters) > 0 {
			names := make([]string, 0, len(p.Parameters))
			for _, param := range p.Parameters {
				if param.Default != nil {
					names = append(names, fmt.Sprintf("%s=%s", param.Name, *param.Default))
				} else {
					names = append(names, param.Name+" (required)")
				}
			}
			fmt.Printf("    parameters: %s\n", strings.Join(names, ", "))
		}
		if calls, err := p.ParsedCalls(); err == nil && len(calls) > 0 {
			ids := make([]string, 0, len(calls))
			for _, c := range calls {
				ids = append(ids, c.PluginID)
			}
			fmt.Printf("    calls: %s\n", strings.Join(ids, ", "))
		}
	}
	return nil
}
