// Package analyze implements the queue-coordinated analyze worker. Any
// number of worker processes may run concurrently against one shared
// manifest and queue file.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/config"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/lockfile"
	"github.com/vietspeech/kidcrawl/internal/logger"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/metrics"
	"github.com/vietspeech/kidcrawl/internal/queue"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// pollInterval is how long an idle worker waits before probing the queue
// again in --wait mode.
const pollInterval = 30 * time.Second

// Command returns the analyze command for use in the root command.
func Command() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a queue-coordinated analyze worker",
		Long: `Claims batches of downloaded-but-unclassified records from the shared
queue, classifies each one, and persists results. Multiple analyze workers
may run at once; crashed workers' claims are recovered automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := cmdcommon.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			if !deps.Config.Queue.Enabled {
				return errors.New("queue coordination is disabled; enable queue.enabled or use 'crawl --phases analyze'")
			}

			w, err := newWorker(deps)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return w.run(ctx, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false,
		"keep polling for new work instead of exiting when the queue drains")

	return cmd
}

// worker is one analyze process: claim, classify, persist, complete.
type worker struct {
	cfg         *config.Config
	store       *manifest.Store
	coordinator *queue.Coordinator
	classifier  collab.Classifier
	logger      logger.Interface
}

func newWorker(deps *cmdcommon.CommandDeps) (*worker, error) {
	store := cmdcommon.NewManifestStore(deps)

	coordinator, err := cmdcommon.NewQueueCoordinator(deps, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue coordinator: %w", err)
	}

	classifier, err := collab.NewHTTPClassifier(
		deps.Config.Collab.ClassifierURL,
		deps.Config.Collab.RequestTimeout,
		deps.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	return &worker{
		cfg:         deps.Config,
		store:       store,
		coordinator: coordinator,
		classifier:  classifier,
		logger:      deps.Logger.WithComponent("analyze-worker"),
	}, nil
}

// run enqueues outstanding work and drains the queue. Claims held at
// shutdown are returned to pending.
func (w *worker) run(ctx context.Context, wait bool) error {
	w.logger.Info("worker starting", "instance_id", w.coordinator.InstanceID())

	if err := w.enqueueOutstanding(ctx); err != nil {
		return err
	}

	stopHeartbeat := w.startHeartbeat(ctx)
	defer stopHeartbeat()

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.coordinator.Release(releaseCtx); err != nil {
			w.logger.Error("failed to release claims", "error", err)
		}
	}()

	var processed, failed int
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping", "processed", processed, "failed", failed)
			return nil
		}

		claimStart := time.Now()
		records, err := w.coordinator.Claim(ctx, w.cfg.Queue.BatchSize)
		if err != nil {
			return fmt.Errorf("claim failed: %w", err)
		}
		metrics.ClaimDuration.Observe(time.Since(claimStart).Seconds())

		if len(records) == 0 {
			// Empty claim means no work right now, not termination:
			// other instances may still be producing pending ids.
			if !wait {
				w.logger.Info("queue drained", "processed", processed, "failed", failed)
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
				continue
			}
		}

		for i := range records {
			if err := ctx.Err(); err != nil {
				return nil
			}
			rec := &records[i]
			if err := w.analyzeOne(ctx, rec); err != nil {
				failed++
				w.logger.Warn("record failed", "video_id", rec.VideoID, "error", err)
				if _, ferr := w.coordinator.Fail(ctx, rec.VideoID, err); ferr != nil {
					return fmt.Errorf("mark failed: %w", ferr)
				}
				continue
			}
			processed++
			if _, cerr := w.coordinator.Complete(ctx, rec.VideoID); cerr != nil {
				return fmt.Errorf("mark complete: %w", cerr)
			}
		}
	}
}

// enqueueOutstanding pushes every record needing analysis into the queue.
func (w *worker) enqueueOutstanding(ctx context.Context) error {
	m, err := w.store.Load()
	if err != nil {
		return err
	}

	var ids []string
	for i := range m.Records {
		r := &m.Records[i]
		if r.HasIdentity() && r.NeedsAnalysis() {
			ids = append(ids, r.VideoID)
		}
	}

	added, err := w.coordinator.Enqueue(ctx, ids)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	w.logger.Info("outstanding work enqueued", "candidates", len(ids), "added", added)
	return nil
}

// analyzeOne classifies one claimed record and persists the result under the
// manifest lock, since other workers rewrite the same manifest file.
func (w *worker) analyzeOne(ctx context.Context, claimed *domain.Record) error {
	path, found := manifest.ResolveOutputPath(claimed, w.cfg.Storage.AudioDir)
	if !found {
		return fmt.Errorf("audio file not found for %s", claimed.VideoID)
	}

	cls, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*collab.Classification, error) {
		return w.classifier.Classify(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if cls.Error != "" {
		return fmt.Errorf("classifier rejected %s: %s", claimed.VideoID, cls.Error)
	}

	lockPath := w.cfg.Storage.ManifestPath + ".lock"
	return lockfile.WithLock(ctx, lockPath, lockfile.DefaultConfig(), func() error {
		m, err := w.store.Load()
		if err != nil {
			return err
		}
		rec := m.FindByID(claimed.VideoID)
		if rec == nil {
			return fmt.Errorf("record %s disappeared from manifest", claimed.VideoID)
		}
		lang := cls.DetectedLanguage
		if lang == "" {
			lang = "unknown"
		}
		rec.SetClassification(cls.Qualified(), cls.Confidence, lang, time.Now().UTC())
		return w.store.Save(m, manifest.OriginAudio)
	})
}

// startHeartbeat refreshes this instance's heartbeat at the configured
// interval so its claims are never swept as stale while it works.
func (w *worker) startHeartbeat(ctx context.Context) func() {
	interval := w.cfg.Queue.HeartbeatInterval
	if interval <= 0 || interval > w.coordinator.StaleTimeout()/2 {
		interval = w.coordinator.StaleTimeout() / 2
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.coordinator.Heartbeat(ctx); err != nil && ctx.Err() == nil {
					w.logger.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
