package discovery

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/vietspeech/kidcrawl/internal/domain"
)

// Pre-download filter defaults.
const (
	DefaultMinDurationSeconds = 10
	DefaultMaxDurationSeconds = 600
	DefaultMinViewCount       = 100

	// titleLanguageMinLen is the minimum title length before the language
	// heuristic is trusted at all.
	titleLanguageMinLen = 20

	// titleLanguageMinConfidence is the whatlang confidence below which the
	// heuristic abstains.
	titleLanguageMinConfidence = 0.8
)

// FilterConfig bounds which candidates are worth downloading. Filtering is
// pure metadata inspection and always runs before any network download.
type FilterConfig struct {
	MinDurationSeconds float64  `mapstructure:"min_duration_seconds"`
	MaxDurationSeconds float64  `mapstructure:"max_duration_seconds"`
	MinViewCount       int64    `mapstructure:"min_view_count"`
	ExcludeKeywords    []string `mapstructure:"exclude_keywords"`
	// RejectForeignTitles enables the title language heuristic: candidates
	// whose title is confidently detected as a non-Vietnamese language are
	// rejected without download.
	RejectForeignTitles bool `mapstructure:"reject_foreign_titles"`
}

// DefaultFilterConfig returns the default filter bounds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinDurationSeconds:  DefaultMinDurationSeconds,
		MaxDurationSeconds:  DefaultMaxDurationSeconds,
		MinViewCount:        DefaultMinViewCount,
		RejectForeignTitles: true,
	}
}

// RejectReason explains why a candidate was filtered out, empty when kept.
type RejectReason string

// Reject reasons.
const (
	RejectNone         RejectReason = ""
	RejectTooShort     RejectReason = "too_short"
	RejectTooLong      RejectReason = "too_long"
	RejectLowViews     RejectReason = "low_views"
	RejectKeyword      RejectReason = "excluded_keyword"
	RejectForeignTitle RejectReason = "foreign_title"
)

// Filter applies the configured metadata bounds to a candidate.
type Filter struct {
	cfg FilterConfig
}

// NewFilter creates a candidate filter.
func NewFilter(cfg FilterConfig) *Filter {
	if cfg.MinDurationSeconds <= 0 {
		cfg.MinDurationSeconds = DefaultMinDurationSeconds
	}
	if cfg.MaxDurationSeconds <= 0 {
		cfg.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	return &Filter{cfg: cfg}
}

// Check returns the reject reason for a candidate, or RejectNone.
func (f *Filter) Check(c *domain.Candidate) RejectReason {
	if c.DurationSeconds > 0 && c.DurationSeconds < f.cfg.MinDurationSeconds {
		return RejectTooShort
	}
	if c.DurationSeconds > f.cfg.MaxDurationSeconds {
		return RejectTooLong
	}
	if f.cfg.MinViewCount > 0 && c.ViewCount > 0 && c.ViewCount < f.cfg.MinViewCount {
		return RejectLowViews
	}

	haystack := strings.ToLower(c.Title + " " + c.Description)
	for _, kw := range f.cfg.ExcludeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			return RejectKeyword
		}
	}

	if f.cfg.RejectForeignTitles && titleLooksForeign(c.Title) {
		return RejectForeignTitle
	}

	return RejectNone
}

// titleLooksForeign reports whether the title is confidently detected as a
// language other than Vietnamese. Short or ambiguous titles abstain: a false
// keep only costs one download, a false reject loses a candidate for good.
func titleLooksForeign(title string) bool {
	title = strings.TrimSpace(title)
	if len(title) < titleLanguageMinLen {
		return false
	}

	info := whatlanggo.Detect(title)
	if !info.IsReliable() || info.Confidence < titleLanguageMinConfidence {
		return false
	}
	return info.Lang != whatlanggo.Vie
}
