package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openscaffold/openscaffold/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		targetFilter string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded runs",
		Long: `Show the execution log. With no argument, lists recent runs
newest first. With a run ID, shows that run's per-node results.`,
		Example: `  # Recent runs
  scaffold history

  # Runs against one target tree
  scaffold history --target /srv/projects/api

  # Node results for one run
  scaffold history 3f1b2c4d-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), args, targetFilter, limit)
		},
	}

	cmd.Flags().StringVarP(&targetFilter, "target", "t", "", "only runs against this target root")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}

func runHistory(ctx context.Context, args []string, targetFilter string, limit int) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	if rt.cfg.StatePath == "" {
		return usageErr(fmt.Errorf("no execution log configured (state_path is empty)"))
	}
	if _, err := os.Stat(rt.cfg.StatePath); err != nil {
		return usageErr(fmt.Errorf("no execution log at %s", rt.cfg.StatePath))
	}

	store, err := openRunStore(ctx, rt.cfg, false)
	if err != nil {
		return usageErr(err)
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		return showRun(ctx, store, args[0])
	}
	return listRuns(ctx, store, targetFilter, limit)
}

func listRuns(ctx context.Context, store *stores.SQLiteStore, targetFilter string, limit int) error {
	runs, err := store.ListRuns(ctx, targetFilter, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %-9s  %-20s  %s  %s\n",
			run.ID, run.Status, run.PluginID,
			run.StartedAt.Format(time.RFC3339), run.TargetRoot)
	}
	return nil
}

func showRun(ctx context.Context, store *stores.SQLiteStore, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return usageErr(err)
	}
	nodes, err := store.ListNodesByRun(ctx, runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(struct {
			Run   *stores.Run          `json:"run"`
			Nodes []*stores.NodeRecord `json:"nodes"`
		}{run, nodes}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("run %s: %s %s on %s\n", run.ID, run.Status, run.PluginID, run.TargetRoot)
	for _, node := range nodes {
		detail := node.SkipReason
		if node.Error != nil {
			detail = *node.Error
		}
		fmt.Printf("  %-9s %-24s %s\n", node.Status, node.PluginID+"@"+node.Fingerprint, detail)
	}
	return nil
}
