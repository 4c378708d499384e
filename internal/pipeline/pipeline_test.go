package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/pipeline"
	"github.com/vietspeech/kidcrawl/internal/retry"
	collabMock "github.com/vietspeech/kidcrawl/testutils/mocks/collab"
)

type harness struct {
	pipeline     *pipeline.Pipeline
	store        *manifest.Store
	urlFile      *manifest.URLFile
	collab       *collabMock.MockCollaborator
	audioDir     string
	manifestPath string
	backupRoot   string
}

// newHarness builds a pipeline over temp storage with a mock collaborator.
// platform may be nil when the test never runs the search phase.
func newHarness(t *testing.T, platform discovery.Platform) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	dir := t.TempDir()

	manifestPath := filepath.Join(dir, "manifest.json")
	backupRoot := filepath.Join(dir, "backups")
	store := manifest.NewStore(manifestPath, backupRoot, nil)
	urlFile := manifest.NewURLFile(filepath.Join(dir, "urls.txt"))

	var engine *discovery.Engine
	if platform != nil {
		var err error
		engine, err = discovery.NewEngine(platform, store, urlFile, nil, discovery.Config{
			PageCooldown: time.Millisecond,
			Retry:        retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond},
		}, nil)
		require.NoError(t, err)
	}

	mock := collabMock.NewMockCollaborator(ctrl)
	audioDir := filepath.Join(dir, "audio")

	p, err := pipeline.New(pipeline.Config{
		Queries:             []string{"bé tập nói"},
		AudioDir:            audioDir,
		DownloadConcurrency: 2,
		Retry:               retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, store, urlFile, engine, mock, nil, nil, nil)
	require.NoError(t, err)

	return &harness{
		pipeline:     p,
		store:        store,
		urlFile:      urlFile,
		collab:       mock,
		audioDir:     audioDir,
		manifestPath: manifestPath,
		backupRoot:   backupRoot,
	}
}

func (h *harness) seed(t *testing.T, records ...domain.Record) {
	t.Helper()
	m, err := h.store.Load()
	require.NoError(t, err)
	m.Records = append(m.Records, records...)
	require.NoError(t, h.store.Save(m, manifest.OriginURL))
}

func (h *harness) record(t *testing.T, videoID string) domain.Record {
	t.Helper()
	m, err := h.store.Load()
	require.NoError(t, err)
	rec := m.FindByID(videoID)
	require.NotNil(t, rec, "record %s missing from manifest", videoID)
	return *rec
}

// stageAudio creates a fake downloaded audio file and returns its path.
func (h *harness) stageAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.audioDir, "incoming", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func pendingRecord(id string) domain.Record {
	return domain.Record{
		VideoID:   id,
		URL:       "https://v/" + id,
		Title:     "bé " + id,
		Status:    domain.StatusPending,
		Timestamp: time.Now().UTC(),
	}
}

// pagePlatform serves one fixed page for any query.
type pagePlatform struct {
	page *discovery.Page
	err  error
}

func (p *pagePlatform) SearchPage(context.Context, string, string) (*discovery.Page, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.page, nil
}

func (p *pagePlatform) ChannelPage(context.Context, string, string) (*discovery.Page, error) {
	return &discovery.Page{}, nil
}

func TestSearchAppendsNewRecordsOnce(t *testing.T) {
	t.Parallel()

	platform := &pagePlatform{page: &discovery.Page{Items: []domain.Candidate{
		{VideoID: "a", URL: "https://v/a", Title: "bé Na tập nói chuyện cùng mẹ", DurationSeconds: 120, ViewCount: 5000},
		{VideoID: "b", URL: "https://v/b", Title: "bé Bin tập nói chuyện cùng bà", DurationSeconds: 90, ViewCount: 3000},
	}}}
	h := newHarness(t, platform)
	ctx := context.Background()

	res, err := h.pipeline.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	m, err := h.store.Load()
	require.NoError(t, err)
	assert.Len(t, m.Records, 2)
	assert.Equal(t, domain.StatusPending, m.Records[0].Status)

	urls, err := h.urlFile.Load()
	require.NoError(t, err)
	assert.Contains(t, urls, "https://v/a")

	before, err := os.ReadFile(h.manifestPath)
	require.NoError(t, err)

	// Second pass discovers the same page; nothing new may be added.
	res, err = h.pipeline.Search(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)

	m, err = h.store.Load()
	require.NoError(t, err)
	assert.Len(t, m.Records, 2)

	after, err := os.ReadFile(h.manifestPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "rerun must leave the manifest byte-identical")
}

func TestSearchSaveFailureKeepsCandidatesDiscoverable(t *testing.T) {
	t.Parallel()

	platform := &pagePlatform{page: &discovery.Page{Items: []domain.Candidate{
		{VideoID: "a", URL: "https://v/a", Title: "bé Na tập nói chuyện cùng mẹ", DurationSeconds: 120, ViewCount: 5000},
	}}}
	h := newHarness(t, platform)
	h.seed(t, pendingRecord("z"))

	// Squat the backup root with a plain file so the next save fails.
	require.NoError(t, os.WriteFile(h.backupRoot, []byte("x"), 0o644))

	_, err := h.pipeline.Search(context.Background())
	require.Error(t, err)

	// The candidate was neither persisted nor written to the URL file, so
	// the next discovery pass can pick it up again.
	m, err := h.store.Load()
	require.NoError(t, err)
	assert.Nil(t, m.FindByID("a"))

	urls, err := h.urlFile.Load()
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestSearchQuotaReturnsErrorAfterPersisting(t *testing.T) {
	t.Parallel()

	platform := &pagePlatform{err: errkind.New(errkind.QuotaExhausted, "search quota exhausted")}
	h := newHarness(t, platform)

	_, err := h.pipeline.Search(context.Background())
	require.Error(t, err)
	assert.True(t, errkind.IsQuotaExhausted(err))
}

func TestDownloadWritesManifestBeforeMove(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, pendingRecord("a"))

	staged := h.stageAudio(t, "a.m4a")
	h.collab.EXPECT().Download(gomock.Any(), "https://v/a").Return(&collab.DownloadResult{
		AudioPath:       staged,
		DurationSeconds: 135.5,
	}, nil)

	res, err := h.pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	rec := h.record(t, "a")
	assert.Equal(t, domain.StatusSuccess, rec.Status)
	require.NotNil(t, rec.OutputPath)
	assert.Equal(t, filepath.Join(h.audioDir, "0001_a.m4a"), *rec.OutputPath)
	assert.Equal(t, 1, rec.DownloadIndex)
	assert.Equal(t, 135.5, rec.DurationSeconds)

	// The file followed the manifest to its final path.
	_, statErr := os.Stat(*rec.OutputPath)
	assert.NoError(t, statErr)
	_, statErr = os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr), "staged file must be moved, not copied")
}

func TestDownloadFailureIsPersistedImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, pendingRecord("a"))

	h.collab.EXPECT().Download(gomock.Any(), "https://v/a").
		Return(nil, errors.New("video unavailable"))

	res, err := h.pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a", res.Errors[0].VideoID)

	rec := h.record(t, "a")
	assert.Equal(t, domain.StatusFailed, rec.Status)

	// A failed record is settled; the next pass must not retry it.
	res, err = h.pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestDownloadRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seed(t, pendingRecord("a"))
	staged := h.stageAudio(t, "a.m4a")

	gomock.InOrder(
		h.collab.EXPECT().Download(gomock.Any(), "https://v/a").
			Return(nil, errkind.New(errkind.Transient, "connection reset")),
		h.collab.EXPECT().Download(gomock.Any(), "https://v/a").
			Return(&collab.DownloadResult{AudioPath: staged}, nil),
	)

	res, err := h.pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDownloadSkipsSettledRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	done := filepath.Join(h.audioDir, "0001_done.m4a")
	h.seed(t,
		domain.Record{VideoID: "done", URL: "https://v/done", Status: domain.StatusSuccess, OutputPath: &done, DownloadIndex: 1, Timestamp: time.Now().UTC()},
		domain.Record{VideoID: "broken", URL: "https://v/broken", Status: domain.StatusFailed, Timestamp: time.Now().UTC()},
	)

	res, err := h.pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestAnalyzePersistsTuplePerRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	goodPath := h.stageAudio(t, "0001_good.m4a")
	badPath := h.stageAudio(t, "0002_bad.m4a")
	h.seed(t,
		domain.Record{VideoID: "good", URL: "https://v/good", Status: domain.StatusSuccess, OutputPath: &goodPath, Timestamp: time.Now().UTC()},
		domain.Record{VideoID: "bad", URL: "https://v/bad", Status: domain.StatusSuccess, OutputPath: &badPath, Timestamp: time.Now().UTC()},
	)

	h.collab.EXPECT().Classify(gomock.Any(), goodPath).Return(&collab.Classification{
		IsTargetLanguage: true,
		DetectedLanguage: "vietnamese",
		HasTargetVoice:   true,
		Confidence:       0.93,
	}, nil)
	h.collab.EXPECT().Classify(gomock.Any(), badPath).
		Return(nil, errors.New("classifier rejected the file"))

	res, err := h.pipeline.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	// The successful record's tuple survived the other record's failure.
	rec := h.record(t, "good")
	assert.True(t, rec.ClassificationComplete())
	assert.True(t, rec.Qualified())
	assert.Equal(t, "vietnamese", rec.LanguageFolder)
	assert.Equal(t, 0.93, *rec.VoiceAnalysisConfidence)

	failed := h.record(t, "bad")
	assert.False(t, failed.Classified)
	assert.True(t, failed.NeedsAnalysis(), "failed analysis stays eligible for the next pass")
}

func TestAnalyzeSkipsCompletedRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	path := h.stageAudio(t, "0001_a.m4a")
	rec := domain.Record{VideoID: "a", URL: "https://v/a", Status: domain.StatusSuccess, OutputPath: &path, Timestamp: time.Now().UTC()}
	rec.SetClassification(true, 0.9, "vietnamese", time.Now().UTC())
	h.seed(t, rec)

	res, err := h.pipeline.Analyze(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestAnalyzeRedoesIncompleteClassification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	path := h.stageAudio(t, "0001_a.m4a")
	conf := 0.5
	h.seed(t, domain.Record{
		VideoID:    "a",
		URL:        "https://v/a",
		Status:     domain.StatusSuccess,
		OutputPath: &path,
		Timestamp:  time.Now().UTC(),
		// Interrupted earlier run: flag set, tuple incomplete.
		Classified:              true,
		VoiceAnalysisConfidence: &conf,
	})

	h.collab.EXPECT().Classify(gomock.Any(), path).Return(&collab.Classification{
		IsTargetLanguage: true,
		DetectedLanguage: "vietnamese",
		HasTargetVoice:   false,
		Confidence:       0.4,
	}, nil)

	res, err := h.pipeline.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	rec := h.record(t, "a")
	assert.True(t, rec.ClassificationComplete())
	assert.False(t, rec.Qualified())
}

func TestFilterPlacesFilesByVerdict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, os.MkdirAll(h.audioDir, 0o755))

	keepPath := filepath.Join(h.audioDir, "0001_keep.m4a")
	require.NoError(t, os.WriteFile(keepPath, []byte("audio"), 0o644))
	rejectPath := filepath.Join(h.audioDir, "0002_reject.m4a")
	require.NoError(t, os.WriteFile(rejectPath, []byte("audio"), 0o644))

	keep := domain.Record{VideoID: "keep", URL: "https://v/keep", Status: domain.StatusSuccess, OutputPath: &keepPath, Timestamp: time.Now().UTC()}
	keep.SetClassification(true, 0.9, "vietnamese", time.Now().UTC())
	reject := domain.Record{VideoID: "reject", URL: "https://v/reject", Status: domain.StatusSuccess, OutputPath: &rejectPath, Timestamp: time.Now().UTC()}
	reject.SetClassification(false, 0.2, "vietnamese", time.Now().UTC())
	h.seed(t, keep, reject)

	res, err := h.pipeline.Filter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	kept := h.record(t, "keep")
	assert.Equal(t, filepath.Join(h.audioDir, "vietnamese", "0001_keep.m4a"), *kept.OutputPath)
	assert.True(t, kept.FileAvailable)
	_, statErr := os.Stat(*kept.OutputPath)
	assert.NoError(t, statErr)

	rejected := h.record(t, "reject")
	assert.Equal(t, filepath.Join(h.audioDir, "no_voice", "0002_reject.m4a"), *rejected.OutputPath)
	_, statErr = os.Stat(*rejected.OutputPath)
	assert.NoError(t, statErr, "rejected audio is moved, never deleted")
}

func TestFilterHealsManifestFirstCrash(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, os.MkdirAll(h.audioDir, 0o755))

	// Crash between manifest write and file move: the manifest claims the
	// final path while the file still sits in staging.
	h.stageAudio(t, "0001_a.m4a")
	claimed := filepath.Join(h.audioDir, "0001_a.m4a")
	rec := domain.Record{VideoID: "a", URL: "https://v/a", Status: domain.StatusSuccess, OutputPath: &claimed, Timestamp: time.Now().UTC()}
	rec.SetClassification(true, 0.9, "vietnamese", time.Now().UTC())
	h.seed(t, rec)

	res, err := h.pipeline.Filter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	got := h.record(t, "a")
	assert.Equal(t, filepath.Join(h.audioDir, "vietnamese", "0001_a.m4a"), *got.OutputPath)
	_, statErr := os.Stat(*got.OutputPath)
	assert.NoError(t, statErr)
}

func TestFilterFlagsMissingFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	gone := filepath.Join(h.audioDir, "0001_gone.m4a")
	rec := domain.Record{VideoID: "gone", URL: "https://v/gone", Status: domain.StatusSuccess, OutputPath: &gone, FileAvailable: true, Timestamp: time.Now().UTC()}
	rec.SetClassification(true, 0.9, "vietnamese", time.Now().UTC())
	h.seed(t, rec)

	res, err := h.pipeline.Filter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	got := h.record(t, "gone")
	assert.False(t, got.FileAvailable)
	assert.True(t, got.ClassificationComplete(), "record stays, only the flag drops")
}

func TestFilterPrunesDuplicatesAndURLFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	now := time.Now().UTC()
	h.seed(t,
		domain.Record{VideoID: "dup", URL: "https://v/dup", Status: domain.StatusPending, Timestamp: now},
		domain.Record{VideoID: "dup", URL: "https://v/dup", Status: domain.StatusPending, Timestamp: now},
	)
	require.NoError(t, h.urlFile.Append("https://v/dup"))
	require.NoError(t, h.urlFile.Append("https://v/dup"))

	_, err := h.pipeline.Filter(context.Background())
	require.NoError(t, err)

	m, err := h.store.Load()
	require.NoError(t, err)
	assert.Len(t, m.Records, 1)

	data, err := os.ReadFile(h.urlFile.Path())
	require.NoError(t, err)
	assert.Equal(t, "https://v/dup\n", string(data))
}

func TestUploadFlipsOnlyOnSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, os.MkdirAll(h.audioDir, 0o755))

	okPath := filepath.Join(h.audioDir, "0001_ok.m4a")
	require.NoError(t, os.WriteFile(okPath, []byte("audio"), 0o644))
	failPath := filepath.Join(h.audioDir, "0002_fail.m4a")
	require.NoError(t, os.WriteFile(failPath, []byte("audio"), 0o644))

	ok := domain.Record{VideoID: "ok", URL: "https://v/ok", Status: domain.StatusSuccess, OutputPath: &okPath, FileAvailable: true, Timestamp: time.Now().UTC()}
	ok.SetClassification(true, 0.9, "vietnamese", time.Now().UTC())
	flaky := domain.Record{VideoID: "fail", URL: "https://v/fail", Status: domain.StatusSuccess, OutputPath: &failPath, FileAvailable: true, Timestamp: time.Now().UTC()}
	flaky.SetClassification(true, 0.8, "vietnamese", time.Now().UTC())
	h.seed(t, ok, flaky)

	h.collab.EXPECT().Upload(gomock.Any(), okPath, "ok").Return(nil)
	h.collab.EXPECT().Upload(gomock.Any(), failPath, "fail").
		Return(errors.New("corpus store unreachable"))

	res, err := h.pipeline.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	assert.True(t, h.record(t, "ok").Uploaded)
	assert.False(t, h.record(t, "fail").Uploaded)

	// Next pass retries only the failed upload.
	h.collab.EXPECT().Upload(gomock.Any(), failPath, "fail").Return(nil)
	res, err = h.pipeline.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.True(t, h.record(t, "fail").Uploaded)
}

func TestUploadSkipsUnqualifiedRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	path := filepath.Join(h.audioDir, "0001_no.m4a")
	rec := domain.Record{VideoID: "no", URL: "https://v/no", Status: domain.StatusSuccess, OutputPath: &path, FileAvailable: true, Timestamp: time.Now().UTC()}
	rec.SetClassification(false, 0.3, "vietnamese", time.Now().UTC())
	h.seed(t, rec)

	res, err := h.pipeline.Upload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestRunReturnsQuotaPauseAfterRemainingPhases(t *testing.T) {
	t.Parallel()

	platform := &pagePlatform{err: errkind.New(errkind.QuotaExhausted, "search quota exhausted")}
	h := newHarness(t, platform)

	results, err := h.pipeline.Run(context.Background())

	require.ErrorIs(t, err, pipeline.ErrQuotaPause)
	// Every phase still reported a result despite the quota stop.
	assert.Len(t, results, 5)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     pipeline.Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  pipeline.Config{AudioDir: "data/audio", DownloadConcurrency: 2},
		},
		{
			name:    "missing audio dir",
			cfg:     pipeline.Config{DownloadConcurrency: 2},
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			cfg:     pipeline.Config{AudioDir: "data/audio"},
			wantErr: true,
		},
		{
			name:    "unknown phase",
			cfg:     pipeline.Config{AudioDir: "data/audio", DownloadConcurrency: 2, Phases: []string{"transcode"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
