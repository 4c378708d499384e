// Package crawl implements the crawl command: one full pipeline pass, or
// continuous passes with --forever.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/pipeline"
)

// Command returns the crawl command for use in the root command.
func Command() *cobra.Command {
	var (
		forever bool
		phases  []string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawl pipeline",
		Long: `Runs the pipeline phases (search, download, analyze, filter, upload)
over the shared manifest. With --forever the pipeline cycles until
interrupted, pausing and re-probing when the upstream quota is exhausted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := cmdcommon.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}

			if err := collab.CheckDependencies(); err != nil {
				return err
			}

			p, err := cmdcommon.NewPipeline(deps, phases)
			if err != nil {
				return fmt.Errorf("failed to construct pipeline: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if forever || deps.Config.Pipeline.Forever {
				return runForever(ctx, deps, p)
			}
			return runOnce(ctx, p)
		},
	}

	cmd.Flags().BoolVar(&forever, "forever", false, "cycle the pipeline until interrupted")
	cmd.Flags().StringSliceVar(&phases, "phases", nil,
		"subset of phases to run (search,download,analyze,filter,upload); default runs all")

	return cmd
}

// runOnce executes a single pass and prints its summary.
func runOnce(ctx context.Context, p *pipeline.Pipeline) error {
	results, err := p.Run(ctx)
	pipeline.WriteSummary(os.Stdout, results)
	if errors.Is(err, pipeline.ErrQuotaPause) {
		fmt.Fprintln(os.Stdout, "quota exhausted: state saved, rerun to resume")
		return nil
	}
	return err
}

// runForever cycles passes until the context is cancelled, printing each
// pass's summary as it completes.
func runForever(ctx context.Context, deps *cmdcommon.CommandDeps, p *pipeline.Pipeline) error {
	err := p.RunForever(ctx, pipeline.ForeverConfig{
		CycleCooldown: deps.Config.Pipeline.CycleCooldown,
		CycleSchedule: deps.Config.Pipeline.CycleSchedule,
		QuotaPause:    deps.Config.Pipeline.QuotaPause,
	}, func(results []pipeline.PhaseResult) {
		pipeline.WriteSummary(os.Stdout, results)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
