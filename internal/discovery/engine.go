package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// Pagination defaults.
const (
	DefaultMaxResults   = 200
	DefaultMaxPages     = 50
	DefaultPageCooldown = 2 * time.Second
)

// Config holds discovery engine configuration.
type Config struct {
	// MaxResults caps candidates per query; results are trimmed to the
	// exact count.
	MaxResults int `mapstructure:"max_results"`
	// MaxPages is the hard safety ceiling on pages per query, guarding
	// against cursor bugs causing infinite loops.
	MaxPages int `mapstructure:"max_pages"`
	// PageCooldown is the fixed delay between page fetches.
	PageCooldown time.Duration `mapstructure:"page_cooldown"`
	// Retry configures transient-failure retry for page fetches.
	Retry retry.Config
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxResults < 0 || c.MaxPages < 0 {
		return errors.New("max_results and max_pages must be non-negative")
	}
	return nil
}

// Stats summarizes one discovery pass.
type Stats struct {
	Pages      int
	Fetched    int
	Filtered   map[RejectReason]int
	Duplicates int
	Added      int
}

// Engine converts queries and channel names into new pending candidates.
// Two dedup layers apply independently: the collected-URLs file, and
// manifest records with status=success. A candidate is kept only if absent
// from both.
type Engine struct {
	platform Platform
	store    *manifest.Store
	urlFile  *manifest.URLFile
	filter   *Filter
	cfg      Config
	logger   logger.Interface
}

// NewEngine creates a discovery engine.
func NewEngine(
	platform Platform,
	store *manifest.Store,
	urlFile *manifest.URLFile,
	filter *Filter,
	cfg Config,
	log logger.Interface,
) (*Engine, error) {
	if platform == nil {
		return nil, errors.New("platform cannot be nil")
	}
	if store == nil || urlFile == nil {
		return nil, errors.New("manifest store and url file are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PageCooldown <= 0 {
		cfg.PageCooldown = DefaultPageCooldown
	}
	if filter == nil {
		filter = NewFilter(DefaultFilterConfig())
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Engine{
		platform: platform,
		store:    store,
		urlFile:  urlFile,
		filter:   filter,
		cfg:      cfg,
		logger:   log.WithComponent("discovery"),
	}, nil
}

// DiscoverQuery pages through keyword search results for one query and
// returns new, filtered, deduplicated candidates.
func (e *Engine) DiscoverQuery(ctx context.Context, query string) ([]domain.Candidate, *Stats, error) {
	fetch := func(cursor string) (*Page, error) {
		return e.platform.SearchPage(ctx, query, cursor)
	}
	return e.paginate(ctx, "query "+query, fetch, e.cfg.MaxResults)
}

// DiscoverChannel pages through all of a channel's uploads. maxResults <= 0
// means exhaustive, still bounded by the page-count ceiling.
func (e *Engine) DiscoverChannel(ctx context.Context, username string, maxResults int) ([]domain.Candidate, *Stats, error) {
	fetch := func(cursor string) (*Page, error) {
		return e.platform.ChannelPage(ctx, username, cursor)
	}
	return e.paginate(ctx, "channel "+username, fetch, maxResults)
}

// paginate runs the shared pagination loop. It stops when the server reports
// no more results, returns zero items, the result cap is reached, or the
// page ceiling is hit.
func (e *Engine) paginate(
	ctx context.Context,
	what string,
	fetch func(cursor string) (*Page, error),
	maxResults int,
) ([]domain.Candidate, *Stats, error) {
	knownURLs, err := e.knownURLs()
	if err != nil {
		return nil, nil, err
	}

	stats := &Stats{Filtered: make(map[RejectReason]int)}
	var candidates []domain.Candidate
	cursor := ""

	for page := 0; page < e.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return candidates, stats, err
		}

		result, err := retry.DoWithResult(ctx, e.cfg.Retry, func() (*Page, error) {
			return fetch(cursor)
		})
		if err != nil {
			if errkind.IsQuotaExhausted(err) {
				// Partial results stay usable; the caller decides whether to
				// pause and re-probe.
				return candidates, stats, err
			}
			return candidates, stats, fmt.Errorf("fetch page %d for %s: %w", page, what, err)
		}

		stats.Pages++
		if len(result.Items) == 0 {
			break
		}
		stats.Fetched += len(result.Items)

		for i := range result.Items {
			c := result.Items[i]
			if reason := e.filter.Check(&c); reason != RejectNone {
				stats.Filtered[reason]++
				continue
			}
			if _, known := knownURLs[c.URL]; known {
				stats.Duplicates++
				continue
			}
			knownURLs[c.URL] = struct{}{}
			candidates = append(candidates, c)

			if maxResults > 0 && len(candidates) >= maxResults {
				candidates = candidates[:maxResults]
				stats.Added = len(candidates)
				return candidates, stats, nil
			}
		}

		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor

		select {
		case <-ctx.Done():
			return candidates, stats, ctx.Err()
		case <-time.After(e.cfg.PageCooldown):
		}
	}

	stats.Added = len(candidates)
	e.logger.Info("discovery pass finished",
		"what", what,
		"pages", stats.Pages,
		"fetched", stats.Fetched,
		"duplicates", stats.Duplicates,
		"added", stats.Added,
	)
	return candidates, stats, nil
}

// knownURLs merges the two dedup layers: URLs in the collected file and URLs
// of successfully downloaded manifest records.
func (e *Engine) knownURLs() (map[string]struct{}, error) {
	urls, err := e.urlFile.Load()
	if err != nil {
		return nil, err
	}

	m, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	for u := range m.KnownURLs(domain.StatusSuccess) {
		urls[u] = struct{}{}
	}
	return urls, nil
}
