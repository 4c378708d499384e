// Package pipeline sequences the crawl phases over one shared manifest:
// Search, Download, Analyze, Filter, Upload. Each phase is re-entrant and
// safe to run repeatedly; a rerun with no new input is a no-op.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietspeech/kidcrawl/internal/channels"
	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/lockfile"
	"github.com/vietspeech/kidcrawl/internal/logger"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/metrics"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// Phase names, in canonical execution order.
const (
	PhaseSearch   = "search"
	PhaseDownload = "download"
	PhaseAnalyze  = "analyze"
	PhaseFilter   = "filter"
	PhaseUpload   = "upload"
)

// phaseOrder is the canonical sequence; configured phase subsets always run
// in this order regardless of how they are listed.
var phaseOrder = []string{PhaseSearch, PhaseDownload, PhaseAnalyze, PhaseFilter, PhaseUpload}

// Config holds pipeline execution settings.
type Config struct {
	// Phases selects which phases run. Empty means all, in canonical order.
	Phases []string `mapstructure:"phases"`
	// Queries are the search terms crawled by the search phase.
	Queries []string `mapstructure:"queries"`
	// AudioDir is the root directory for downloaded and placed audio.
	AudioDir string `mapstructure:"audio_dir"`
	// StagingDir receives fresh downloads before final placement. Defaults
	// to AudioDir/incoming.
	StagingDir string `mapstructure:"staging_dir"`
	// RejectDir receives audio that failed the voice check. Files are moved
	// there, never deleted.
	RejectDir string `mapstructure:"reject_dir"`
	// DownloadConcurrency bounds simultaneous downloads within one process.
	DownloadConcurrency int `mapstructure:"download_concurrency"`
	// LockPath, when set, is an advisory lock held for each phase's
	// read-modify-write span so two single-instance pipelines cannot
	// interleave manifest mutations. Empty disables locking.
	LockPath string `mapstructure:"lock_path"`
	// Lock configures lock acquisition retry.
	Lock lockfile.Config
	// Retry configures transient-failure retry for collaborator calls.
	Retry retry.Config
	// ChannelMining turns the channel feedback loop on.
	ChannelMining bool `mapstructure:"channel_mining"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AudioDir == "" {
		return errors.New("audio_dir is required")
	}
	if c.DownloadConcurrency <= 0 {
		return fmt.Errorf("download_concurrency must be positive, got %d", c.DownloadConcurrency)
	}
	for _, p := range c.Phases {
		if !knownPhase(p) {
			return fmt.Errorf("unknown phase %q", p)
		}
	}
	return nil
}

func knownPhase(name string) bool {
	for _, p := range phaseOrder {
		if p == name {
			return true
		}
	}
	return false
}

// ItemError is one record's failure inside a phase.
type ItemError struct {
	VideoID string
	Message string
}

// PhaseResult summarizes one phase run: counts plus itemized errors.
type PhaseResult struct {
	Phase     string
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []ItemError
	Duration  time.Duration
}

func (r *PhaseResult) fail(videoID string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{VideoID: videoID, Message: err.Error()})
}

// Pipeline runs the crawl phases against one manifest.
type Pipeline struct {
	cfg      Config
	store    *manifest.Store
	urlFile  *manifest.URLFile
	engine   *discovery.Engine
	collab   collab.Collaborator
	miner    *channels.Miner
	channels *channels.Store
	logger   logger.Interface

	// saveMu serializes manifest mutation+save across concurrent downloads.
	saveMu sync.Mutex

	// nextIndex is the next download index, seeded from the manifest's
	// current maximum on first use. Guarded by saveMu.
	nextIndex int
}

// New creates a pipeline. The miner and channel store may be nil when
// channel mining is disabled.
func New(
	cfg Config,
	store *manifest.Store,
	urlFile *manifest.URLFile,
	engine *discovery.Engine,
	collaborator collab.Collaborator,
	miner *channels.Miner,
	channelStore *channels.Store,
	log logger.Interface,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil || urlFile == nil {
		return nil, errors.New("manifest store and url file are required")
	}
	if collaborator == nil {
		return nil, errors.New("collaborator is required")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = cfg.AudioDir + "/incoming"
	}
	if cfg.RejectDir == "" {
		cfg.RejectDir = cfg.AudioDir + "/no_voice"
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		urlFile:  urlFile,
		engine:   engine,
		collab:   collaborator,
		miner:    miner,
		channels: channelStore,
		logger:   log.WithComponent("pipeline"),
	}, nil
}

// ErrQuotaPause signals that discovery stopped on quota exhaustion; the rest
// of the pass still ran. Forever mode pauses and re-probes on this error.
var ErrQuotaPause = errors.New("discovery paused: upstream quota exhausted")

// Run executes the configured phases once, in canonical order. A quota
// exhaustion during search does not abort the pass: the remaining phases run
// on whatever work exists, and the returned error wraps ErrQuotaPause.
func (p *Pipeline) Run(ctx context.Context) ([]PhaseResult, error) {
	selected := p.cfg.Phases
	if len(selected) == 0 {
		selected = phaseOrder
	}

	var results []PhaseResult
	var quotaHit bool

	for _, name := range phaseOrder {
		if !contains(selected, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := p.runPhase(ctx, name)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			if errkind.IsQuotaExhausted(err) {
				p.logger.Warn("quota exhausted, discovery paused for this pass", "phase", name)
				quotaHit = true
				continue
			}
			return results, fmt.Errorf("%s phase: %w", name, err)
		}
	}

	if quotaHit {
		return results, ErrQuotaPause
	}
	return results, nil
}

// runPhase dispatches one phase under the manifest lock and records metrics.
func (p *Pipeline) runPhase(ctx context.Context, name string) (*PhaseResult, error) {
	p.logger.Info("phase starting", "phase", name)
	start := time.Now()

	var res *PhaseResult
	run := func() error {
		var err error
		switch name {
		case PhaseSearch:
			res, err = p.Search(ctx)
		case PhaseDownload:
			res, err = p.Download(ctx)
		case PhaseAnalyze:
			res, err = p.Analyze(ctx)
		case PhaseFilter:
			res, err = p.Filter(ctx)
		case PhaseUpload:
			res, err = p.Upload(ctx)
		default:
			err = fmt.Errorf("unknown phase %q", name)
		}
		return err
	}

	var err error
	if p.cfg.LockPath != "" {
		err = lockfile.WithLock(ctx, p.cfg.LockPath, p.cfg.Lock, run)
	} else {
		err = run()
	}

	elapsed := time.Since(start)
	metrics.PhaseDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if res != nil {
		res.Phase = name
		res.Duration = elapsed
		metrics.PhaseProcessed.WithLabelValues(name, metrics.OutcomeSuccess).Add(float64(res.Succeeded))
		metrics.PhaseProcessed.WithLabelValues(name, metrics.OutcomeFailed).Add(float64(res.Failed))
		metrics.PhaseProcessed.WithLabelValues(name, metrics.OutcomeSkipped).Add(float64(res.Skipped))
		p.logger.Info("phase finished",
			"phase", name,
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"duration", elapsed.String(),
		)
		for _, item := range res.Errors {
			p.logger.Warn("item failed", "phase", name, "video_id", item.VideoID, "error", item.Message)
		}
	}
	return res, err
}

// observeManifest refreshes the manifest-size gauges.
func observeManifest(m *domain.Manifest) {
	counts := map[string]int{
		domain.StatusPending: 0,
		domain.StatusSuccess: 0,
		domain.StatusFailed:  0,
	}
	for i := range m.Records {
		counts[m.Records[i].Status]++
	}
	for status, n := range counts {
		metrics.ManifestRecords.WithLabelValues(status).Set(float64(n))
	}
}

// claimIndex hands out the next download index, seeding from the manifest's
// current maximum. Caller must hold saveMu.
func (p *Pipeline) claimIndex(m *domain.Manifest) int {
	if p.nextIndex == 0 {
		for i := range m.Records {
			if m.Records[i].DownloadIndex >= p.nextIndex {
				p.nextIndex = m.Records[i].DownloadIndex + 1
			}
		}
		if p.nextIndex == 0 {
			p.nextIndex = 1
		}
	}
	idx := p.nextIndex
	p.nextIndex++
	return idx
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
