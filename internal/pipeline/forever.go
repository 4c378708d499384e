package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ForeverConfig controls continuous pipeline cycling.
type ForeverConfig struct {
	// CycleCooldown is the pause between passes when no schedule is set.
	CycleCooldown time.Duration `mapstructure:"cycle_cooldown"`
	// CycleSchedule is an optional cron expression; when set, each pass
	// starts at the schedule's next activation instead of after a cooldown.
	CycleSchedule string `mapstructure:"cycle_schedule"`
	// QuotaPause is how long to wait after quota exhaustion before probing
	// the upstream again.
	QuotaPause time.Duration `mapstructure:"quota_pause"`
}

// Forever defaults.
const (
	DefaultCycleCooldown = 30 * time.Minute
	DefaultQuotaPause    = 1 * time.Hour
)

// RunForever cycles the pipeline until ctx is cancelled. Cancellation is
// cooperative: a pass in flight finishes its current record's manifest write
// before stopping. Quota exhaustion pauses the loop for QuotaPause, then the
// next pass re-probes the upstream and resumes from persisted state.
func (p *Pipeline) RunForever(ctx context.Context, cfg ForeverConfig, onPass func([]PhaseResult)) error {
	if cfg.CycleCooldown <= 0 {
		cfg.CycleCooldown = DefaultCycleCooldown
	}
	if cfg.QuotaPause <= 0 {
		cfg.QuotaPause = DefaultQuotaPause
	}

	var schedule cron.Schedule
	if cfg.CycleSchedule != "" {
		var err error
		schedule, err = cron.ParseStandard(cfg.CycleSchedule)
		if err != nil {
			return fmt.Errorf("invalid cycle schedule %q: %w", cfg.CycleSchedule, err)
		}
	}

	for pass := 1; ; pass++ {
		p.logger.Info("pass starting", "pass", pass)
		results, err := p.Run(ctx)
		if onPass != nil {
			onPass(results)
		}

		wait := cfg.CycleCooldown
		switch {
		case err == nil:
		case errors.Is(err, ErrQuotaPause):
			wait = cfg.QuotaPause
			p.logger.Warn("quota exhausted, pausing", "pause", wait.String())
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			// One bad pass never kills the loop; state is on disk.
			p.logger.Error("pass failed", "pass", pass, "error", err)
		}

		if schedule != nil && wait == cfg.CycleCooldown {
			wait = time.Until(schedule.Next(time.Now()))
			if wait < 0 {
				wait = 0
			}
		}

		p.logger.Info("pass finished", "pass", pass, "next_in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
