package channels_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/channels"
	"github.com/vietspeech/kidcrawl/internal/errkind"
)

func newStore(t *testing.T) *channels.Store {
	t.Helper()
	return channels.NewStore(filepath.Join(t.TempDir(), "channels.json"), nil)
}

func TestStoreLoadMissingFile(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	known, err := store.Load()

	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channels": bad`), 0o644))

	_, err := channels.NewStore(path, nil).Load()
	require.Error(t, err)
	assert.True(t, errkind.IsDataCorruption(err))
}

func TestRecordAnalysisPersistsEveryCall(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	require.NoError(t, store.RecordAnalysis("kenh-tre-em", true))
	require.NoError(t, store.RecordAnalysis("kenh-tre-em", false))
	require.NoError(t, store.RecordAnalysis("kenh-tre-em", true))

	known, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, known, "kenh-tre-em")

	info := known["kenh-tre-em"]
	assert.Equal(t, 3, info.TotalAnalyzed)
	assert.Equal(t, 2, info.QualifiedVideos)
	assert.InDelta(t, 2.0/3.0, info.QualityScore, 1e-9)
	assert.False(t, info.LastCrawled.IsZero())
}

func TestRecordAnalysisEmptyUsernameIsNoOp(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.RecordAnalysis("", true))

	known, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestPromisingAppliesThresholdsAndSorts(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seed := map[string]struct {
		qualified int
		total     int
	}{
		"great":    {qualified: 9, total: 10},
		"good":     {qualified: 6, total: 10},
		"bad":      {qualified: 1, total: 10},
		"unproven": {qualified: 2, total: 2},
	}
	for name, s := range seed {
		for i := 0; i < s.total; i++ {
			require.NoError(t, store.RecordAnalysis(name, i < s.qualified))
		}
	}

	promising, err := store.Promising(5, 0.5)
	require.NoError(t, err)

	require.Len(t, promising, 2)
	assert.Equal(t, "great", promising[0].Username)
	assert.Equal(t, "good", promising[1].Username)
}
