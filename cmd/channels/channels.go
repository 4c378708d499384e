// Package channels implements the channel-quality report command.
package channels

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
	"github.com/vietspeech/kidcrawl/internal/channels"
)

// Command returns the channels command for use in the root command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Print the channel-quality report",
		Long: `Renders every discovered channel's cumulative qualification score and
whether it currently counts as promising. Read-only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := cmdcommon.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}

			store := channels.NewStore(deps.Config.Storage.ChannelsPath, deps.Logger)
			known, err := store.Load()
			if err != nil {
				return fmt.Errorf("failed to load channel state: %w", err)
			}

			channels.WriteReport(os.Stdout, known,
				deps.Config.Channels.MinVideosAnalyzed,
				deps.Config.Channels.MinQualityScore,
			)
			return nil
		},
	}
}
