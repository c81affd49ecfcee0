package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openscaffold/openscaffold/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List active policies",
		Long: `List the built-in policies plus any loaded from the configured
policy directories.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicies(cmd)
		},
	}
	return cmd
}

func runPolicies(cmd *cobra.Command) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	policyEngine, err := policy.NewEngine(rt.logger)
	if err != nil {
		return usageErr(err)
	}
	if len(rt.cfg.PolicyDirs) > 0 {
		if err := policyEngine.LoadPolicies(cmd.Context(), rt.cfg.PolicyDirs); err != nil {
			return usageErr(err)
		}
	}

	policies := policyEngine.ListPolicies()
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	if jsonOutput {
		data, err := json.MarshalIndent(policies, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for _, p := range policies {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		source := "built-in"
		if p.Source != "" {
			source = p.Source
		}
		fmt.Printf("%-22s %-8s %-8s %s\n", p.Name, p.Severity, state, source)
		if p.Description != "" {
			fmt.Printf("    %s\n", p.Description)
		}
	}
	return nil
}
