package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

// Config holds channel mining configuration.
type Config struct {
	// MinVideosAnalyzed is the sample size before a channel can be promising.
	MinVideosAnalyzed int `mapstructure:"min_videos_analyzed"`
	// MinQualityScore is the qualification rate threshold.
	MinQualityScore float64 `mapstructure:"min_quality_score"`
	// MaxVideosPerChannel bounds how many of a channel's videos are mined.
	// Zero means exhaustive, still bounded by the discovery page ceiling.
	MaxVideosPerChannel int `mapstructure:"max_videos_per_channel"`
	// ProcessedSetPath, when set, records mined channels in a sidecar file.
	ProcessedSetPath string `mapstructure:"processed_set_path"`
	// SkipProcessedAcrossRuns consults the sidecar on startup so a restart
	// does not re-mine channels. Off by default: re-mining is cheap and the
	// sidecar is best-effort.
	SkipProcessedAcrossRuns bool `mapstructure:"skip_processed_across_runs"`
}

// DefaultConfig returns default mining thresholds.
func DefaultConfig() Config {
	return Config{
		MinVideosAnalyzed: 5,
		MinQualityScore:   0.5,
	}
}

// QualifyFunc runs one candidate through the same download-and-classify
// qualification pipeline as top-level discovery, reporting whether it
// qualified. Mining never recurses: videos found via channel discovery do
// not trigger further channel discovery.
type QualifyFunc func(ctx context.Context, candidate *domain.Candidate) (bool, error)

// MineResult summarizes one channel mining pass.
type MineResult struct {
	Username          string
	Processed         int
	Qualified         int
	Failed            int
	QualificationRate float64
	Promising         bool
}

// Miner walks a qualifying video's channel, qualifies every new upload, and
// scores the channel.
type Miner struct {
	engine *discovery.Engine
	store  *Store
	cfg    Config
	logger logger.Interface

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewMiner creates a channel miner.
func NewMiner(engine *discovery.Engine, store *Store, cfg Config, log logger.Interface) (*Miner, error) {
	if engine == nil || store == nil {
		return nil, errors.New("discovery engine and channel store are required")
	}
	if cfg.MinVideosAnalyzed <= 0 {
		cfg.MinVideosAnalyzed = DefaultConfig().MinVideosAnalyzed
	}
	if cfg.MinQualityScore <= 0 {
		cfg.MinQualityScore = DefaultConfig().MinQualityScore
	}
	if log == nil {
		log = logger.NewNoOp()
	}

	m := &Miner{
		engine:    engine,
		store:     store,
		cfg:       cfg,
		logger:    log.WithComponent("channel-miner"),
		processed: make(map[string]struct{}),
	}
	if cfg.SkipProcessedAcrossRuns && cfg.ProcessedSetPath != "" {
		if err := m.loadProcessedSet(); err != nil {
			m.logger.Warn("could not load processed-channel sidecar", "error", err)
		}
	}
	return m, nil
}

// Mine walks all of username's uploads, qualifies each new candidate, and
// returns the channel's score for this pass. Channels already mined in this
// run are skipped; the returned result then has Processed == 0.
func (m *Miner) Mine(ctx context.Context, username string, qualify QualifyFunc) (*MineResult, error) {
	if username == "" {
		return nil, errors.New("channel username is required")
	}

	if !m.markProcessing(username) {
		m.logger.Debug("channel already mined this run", "username", username)
		return &MineResult{Username: username}, nil
	}

	candidates, _, err := m.engine.DiscoverChannel(ctx, username, m.cfg.MaxVideosPerChannel)
	if err != nil {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("discover channel %s: %w", username, err)
		}
		m.logger.Warn("channel discovery stopped early, qualifying partial uploads",
			"username", username,
			"fetched", len(candidates),
			"error", err,
		)
	}

	result := &MineResult{Username: username}
	for i := range candidates {
		if ctxErr := ctx.Err(); ctxErr != nil {
			break
		}

		qualified, qErr := qualify(ctx, &candidates[i])
		if qErr != nil {
			result.Failed++
			m.logger.Warn("channel candidate failed qualification pipeline",
				"username", username,
				"video_id", candidates[i].VideoID,
				"error", qErr,
			)
			continue
		}
		result.Processed++
		if qualified {
			result.Qualified++
		}

		// Persist the score after every video rather than batching, so a
		// crash mid-channel loses at most one video's bookkeeping.
		if storeErr := m.store.RecordAnalysis(username, qualified); storeErr != nil {
			m.logger.Error("could not persist channel statistics",
				"username", username,
				"error", storeErr,
			)
		}
	}

	if result.Processed > 0 {
		result.QualificationRate = float64(result.Qualified) / float64(result.Processed)
	}
	result.Promising = result.Processed >= m.cfg.MinVideosAnalyzed &&
		result.QualificationRate >= m.cfg.MinQualityScore

	m.persistProcessedSet()

	m.logger.Info("channel mined",
		"username", username,
		"processed", result.Processed,
		"qualified", result.Qualified,
		"rate", result.QualificationRate,
		"promising", result.Promising,
	)
	return result, nil
}

// markProcessing adds the channel to the per-run processed set, reporting
// whether it was new.
func (m *Miner) markProcessing(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.processed[username]; seen {
		return false
	}
	m.processed[username] = struct{}{}
	return true
}

// loadProcessedSet seeds the in-memory set from the sidecar file.
func (m *Miner) loadProcessedSet() error {
	data, err := os.ReadFile(m.cfg.ProcessedSetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.processed[name] = struct{}{}
	}
	return nil
}

// persistProcessedSet writes the sidecar best-effort; losing it only means a
// future restart re-mines some channels.
func (m *Miner) persistProcessedSet() {
	if m.cfg.ProcessedSetPath == "" {
		return
	}

	m.mu.Lock()
	names := make([]string, 0, len(m.processed))
	for name := range m.processed {
		names = append(names, name)
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.cfg.ProcessedSetPath, append(data, '\n'), 0o644); err != nil {
		m.logger.Debug("could not persist processed-channel sidecar",
			"path", m.cfg.ProcessedSetPath,
			"error", err,
		)
	}
}

// Promising lists channels currently meeting the thresholds. Feeding these
// back into the query set is a deliberate operator step, not automatic.
func (m *Miner) Promising() ([]domain.ChannelInfo, error) {
	return m.store.Promising(m.cfg.MinVideosAnalyzed, m.cfg.MinQualityScore)
}
