// Package repair implements the manifest repair command: the explicit
// recovery pass for manifests damaged by interrupted runs or legacy tools.
package repair

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
	"github.com/vietspeech/kidcrawl/internal/lockfile"
	"github.com/vietspeech/kidcrawl/internal/manifest"
)

// Command returns the repair command for use in the root command.
func Command() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair the manifest",
		Long: `Backfills missing fields with loudly-logged defaults, prunes duplicate
video ids, quarantines records missing their identity (status=failed), and
clears incomplete classification tuples so they are re-analyzed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := cmdcommon.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}

			store := cmdcommon.NewManifestStore(deps)
			lockPath := deps.Config.Storage.ManifestPath + ".lock"

			return lockfile.WithLock(cmd.Context(), lockPath, lockfile.DefaultConfig(), func() error {
				m, err := store.Load()
				if err != nil {
					return fmt.Errorf("failed to load manifest: %w", err)
				}

				stats := store.Repair(m, time.Now().UTC())
				fmt.Printf("repair: %d quarantined, %d defaults applied, %d duplicates pruned\n",
					stats.Quarantined, stats.DefaultsApplied, stats.DuplicatesPruned)

				if dryRun {
					fmt.Println("dry run: manifest not written")
					return nil
				}
				if err := store.Save(m, manifest.OriginURL); err != nil {
					return fmt.Errorf("failed to save repaired manifest: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report repairs without writing the manifest")

	return cmd
}
