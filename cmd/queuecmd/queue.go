// Package queuecmd implements queue inspection and recovery commands.
package queuecmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
)

// Command returns the queue command for use in the root command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the shared work queue",
		RunE:  runStatus,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue-failed",
		Short: "Move failed ids back to pending",
		Long: `Failed records are never re-queued automatically; this recovery pass
moves every failed id back to pending under the queue lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := cmdcommon.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			coordinator, err := cmdcommon.NewQueueCoordinator(deps, cmdcommon.NewManifestStore(deps))
			if err != nil {
				return fmt.Errorf("failed to create queue coordinator: %w", err)
			}
			moved, err := coordinator.RequeueFailed(cmd.Context())
			if err != nil {
				return fmt.Errorf("requeue failed: %w", err)
			}
			fmt.Printf("requeued %d failed record(s)\n", moved)
			return nil
		},
	})

	return cmd
}

// runStatus prints the queue partition and per-instance claims.
func runStatus(cmd *cobra.Command, args []string) error {
	deps, err := cmdcommon.NewCommandDeps()
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	coordinator, err := cmdcommon.NewQueueCoordinator(deps, cmdcommon.NewManifestStore(deps))
	if err != nil {
		return fmt.Errorf("failed to create queue coordinator: %w", err)
	}

	qf, err := coordinator.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	processing := 0
	for _, ids := range qf.Queue.Processing {
		processing += len(ids)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Pending", "Processing", "Completed", "Failed", "Instances"})
	t.AppendRow(table.Row{
		len(qf.Queue.Pending),
		processing,
		len(qf.Queue.Completed),
		len(qf.Queue.Failed),
		len(qf.Instances),
	})
	t.Render()

	if len(qf.Instances) == 0 {
		return nil
	}

	names := make([]string, 0, len(qf.Instances))
	for id := range qf.Instances {
		names = append(names, id)
	}
	sort.Strings(names)

	it := table.NewWriter()
	it.SetOutputMirror(os.Stdout)
	it.SetStyle(table.StyleLight)
	it.SetTitle("Instances")
	it.AppendHeader(table.Row{"Instance", "Last Heartbeat", "Claimed"})
	for _, id := range names {
		info := qf.Instances[id]
		it.AppendRow(table.Row{id, info.LastHeartbeat.Format("2006-01-02 15:04:05"), len(info.ClaimedRecords)})
	}
	it.Render()

	return nil
}
