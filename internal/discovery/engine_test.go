package discovery_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// fakePlatform serves canned pages keyed by cursor. The empty cursor is the
// first page.
type fakePlatform struct {
	pages map[string]*discovery.Page
	errs  map[string]error
	calls int
}

func (f *fakePlatform) SearchPage(_ context.Context, _ string, cursor string) (*discovery.Page, error) {
	f.calls++
	if err, ok := f.errs[cursor]; ok {
		return nil, err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return &discovery.Page{}, nil
	}
	return page, nil
}

func (f *fakePlatform) ChannelPage(ctx context.Context, _ string, cursor string) (*discovery.Page, error) {
	return f.SearchPage(ctx, "", cursor)
}

func candidate(id string) domain.Candidate {
	return domain.Candidate{
		VideoID:         id,
		URL:             "https://v/" + id,
		Title:           "bé " + id + " tập nói chuyện cùng mẹ",
		DurationSeconds: 120,
		ViewCount:       5000,
	}
}

func newEngine(t *testing.T, platform discovery.Platform, cfg discovery.Config) (*discovery.Engine, *manifest.Store, *manifest.URLFile) {
	t.Helper()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifest.json"), filepath.Join(dir, "backups"), nil)
	urlFile := manifest.NewURLFile(filepath.Join(dir, "urls.txt"))

	cfg.PageCooldown = time.Millisecond
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond}
	}

	engine, err := discovery.NewEngine(platform, store, urlFile, nil, cfg, nil)
	require.NoError(t, err)
	return engine, store, urlFile
}

func TestDiscoverQuerySinglePage(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"": {Items: []domain.Candidate{candidate("a"), candidate("b")}, HasMore: false},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{})

	got, stats, err := engine.DiscoverQuery(context.Background(), "bé tập nói")
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.Added)
}

func TestDiscoverQueryFollowsCursors(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"":   {Items: []domain.Candidate{candidate("a")}, NextCursor: "p2", HasMore: true},
		"p2": {Items: []domain.Candidate{candidate("b")}, NextCursor: "p3", HasMore: true},
		"p3": {Items: []domain.Candidate{candidate("c")}, HasMore: false},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{})

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	assert.Len(t, got, 3)
	assert.Equal(t, 3, stats.Pages)
}

func TestDiscoverQueryStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"":   {Items: []domain.Candidate{candidate("a")}, NextCursor: "p2", HasMore: true},
		"p2": {Items: []domain.Candidate{}, NextCursor: "p3", HasMore: true},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{})

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	assert.Len(t, got, 1)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, platform.calls, "must not fetch past the empty page")
}

func TestDiscoverQueryTrimsToMaxResults(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"": {
			Items:      []domain.Candidate{candidate("a"), candidate("b"), candidate("c"), candidate("d")},
			NextCursor: "p2",
			HasMore:    true,
		},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{MaxResults: 3})

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	assert.Len(t, got, 3)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 1, platform.calls, "cap reached mid-page, no further fetch")
}

func TestDiscoverQueryHonorsPageCeiling(t *testing.T) {
	t.Parallel()

	// Every page points at itself: without the ceiling this would loop
	// forever.
	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"":     {Items: []domain.Candidate{candidate("a")}, NextCursor: "loop", HasMore: true},
		"loop": {Items: []domain.Candidate{candidate("a")}, NextCursor: "loop", HasMore: true},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{MaxPages: 4})

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Pages)
	assert.Len(t, got, 1, "repeated candidate deduplicated within the pass")
}

func TestDiscoverQueryDedupsAgainstURLFile(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"": {Items: []domain.Candidate{candidate("a"), candidate("b")}},
	}}
	engine, _, urlFile := newEngine(t, platform, discovery.Config{})
	require.NoError(t, urlFile.Append("https://v/a"))

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].VideoID)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestDiscoverQueryDedupsAgainstDownloadedRecords(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"": {Items: []domain.Candidate{candidate("a"), candidate("b"), candidate("c")}},
	}}
	engine, store, _ := newEngine(t, platform, discovery.Config{})

	now := time.Now().UTC()
	m := &domain.Manifest{Records: []domain.Record{
		{VideoID: "a", URL: "https://v/a", Status: domain.StatusSuccess, Timestamp: now},
		// Failed records do not block rediscovery.
		{VideoID: "b", URL: "https://v/b", Status: domain.StatusFailed, Timestamp: now},
	}}
	require.NoError(t, store.Save(m, manifest.OriginURL))

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.VideoID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestDiscoverQueryQuotaKeepsPartialResults(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{
		pages: map[string]*discovery.Page{
			"": {Items: []domain.Candidate{candidate("a")}, NextCursor: "p2", HasMore: true},
		},
		errs: map[string]error{
			"p2": errkind.New(errkind.QuotaExhausted, "search quota exhausted"),
		},
	}
	engine, _, _ := newEngine(t, platform, discovery.Config{})

	got, stats, err := engine.DiscoverQuery(context.Background(), "q")

	require.Error(t, err)
	assert.True(t, errkind.IsQuotaExhausted(err))
	assert.Len(t, got, 1, "page one's candidates survive the quota error")
	assert.Equal(t, 1, stats.Pages)
}

func TestDiscoverQueryRetriesTransientFetch(t *testing.T) {
	t.Parallel()

	flaky := &flakyPlatform{failures: 2}
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifest.json"), filepath.Join(dir, "backups"), nil)
	urlFile := manifest.NewURLFile(filepath.Join(dir, "urls.txt"))

	engine, err := discovery.NewEngine(flaky, store, urlFile, nil, discovery.Config{
		PageCooldown: time.Millisecond,
		Retry:        retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, nil)
	require.NoError(t, err)

	got, _, err := engine.DiscoverQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, flaky.calls)
}

func TestDiscoverChannelExhaustive(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{pages: map[string]*discovery.Page{
		"":   {Items: []domain.Candidate{candidate("a"), candidate("b")}, NextCursor: "p2", HasMore: true},
		"p2": {Items: []domain.Candidate{candidate("c")}, HasMore: false},
	}}
	engine, _, _ := newEngine(t, platform, discovery.Config{MaxResults: 1})

	// maxResults <= 0 means exhaustive regardless of the query cap.
	got, _, err := engine.DiscoverChannel(context.Background(), "kenh-tre-em", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

// flakyPlatform fails the first N fetches with a transient error.
type flakyPlatform struct {
	failures int
	calls    int
}

func (f *flakyPlatform) SearchPage(context.Context, string, string) (*discovery.Page, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errkind.Newf(errkind.Transient, "platform returned status %d", 502)
	}
	return &discovery.Page{Items: []domain.Candidate{candidate(fmt.Sprintf("v%d", f.calls))}}, nil
}

func (f *flakyPlatform) ChannelPage(ctx context.Context, _ string, cursor string) (*discovery.Page, error) {
	return f.SearchPage(ctx, "", cursor)
}
