package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/domain"
)

func boolPtr(b bool) *bool           { return &b }
func floatPtr(f float64) *float64    { return &f }
func timePtr(t time.Time) *time.Time { return &t }

func TestRecordClassificationComplete(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name   string
		record domain.Record
		want   bool
	}{
		{
			name: "full tuple",
			record: domain.Record{
				Classified:              true,
				ContainingChildrenVoice: boolPtr(true),
				VoiceAnalysisConfidence: floatPtr(0.9),
				ClassificationTimestamp: timePtr(now),
			},
			want: true,
		},
		{
			name:   "unclassified",
			record: domain.Record{},
			want:   false,
		},
		{
			name: "classified flag set but confidence missing",
			record: domain.Record{
				Classified:              true,
				ContainingChildrenVoice: boolPtr(true),
				ClassificationTimestamp: timePtr(now),
			},
			want: false,
		},
		{
			name: "classified flag set but timestamp missing",
			record: domain.Record{
				Classified:              true,
				ContainingChildrenVoice: boolPtr(false),
				VoiceAnalysisConfidence: floatPtr(0.3),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.record.ClassificationComplete())
		})
	}
}

func TestRecordNeedsAnalysis(t *testing.T) {
	t.Parallel()

	now := time.Now()

	// An incomplete tuple from an interrupted run must be re-analyzed.
	incomplete := domain.Record{
		Status:                  domain.StatusSuccess,
		Classified:              true,
		ContainingChildrenVoice: boolPtr(true),
	}
	assert.True(t, incomplete.NeedsAnalysis())

	settled := domain.Record{
		Status:                  domain.StatusSuccess,
		Classified:              true,
		ContainingChildrenVoice: boolPtr(true),
		VoiceAnalysisConfidence: floatPtr(0.8),
		ClassificationTimestamp: timePtr(now),
	}
	assert.False(t, settled.NeedsAnalysis())

	// Downloads that failed are not analyzable.
	failed := domain.Record{Status: domain.StatusFailed}
	assert.False(t, failed.NeedsAnalysis())
}

func TestRecordSetClassification(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rec := domain.Record{VideoID: "abc", Status: domain.StatusSuccess}
	rec.SetClassification(true, 0.92, "vietnamese", now)

	require.True(t, rec.ClassificationComplete())
	assert.True(t, rec.Qualified())
	assert.Equal(t, "vietnamese", rec.LanguageFolder)
	assert.Equal(t, 0.92, *rec.VoiceAnalysisConfidence)
	assert.Equal(t, now, *rec.ClassificationTimestamp)
	assert.False(t, rec.NeedsAnalysis())
}

func TestManifestRecomputeTotalDuration(t *testing.T) {
	t.Parallel()

	m := domain.Manifest{
		TotalDurationSeconds: 99999, // stale stored value is never trusted
		Records: []domain.Record{
			{VideoID: "a", DurationSeconds: 120},
			{VideoID: "b", DurationSeconds: 60.5},
			{VideoID: "c", DurationSeconds: -5}, // negative values do not count
			{VideoID: "d"},
		},
	}

	m.RecomputeTotalDuration()
	assert.Equal(t, 180.5, m.TotalDurationSeconds)
}

func TestManifestFindByID(t *testing.T) {
	t.Parallel()

	m := domain.Manifest{Records: []domain.Record{{VideoID: "x"}, {VideoID: "y"}}}

	require.NotNil(t, m.FindByID("y"))
	assert.Nil(t, m.FindByID("z"))

	// The returned pointer aliases the manifest entry.
	m.FindByID("x").Status = domain.StatusFailed
	assert.Equal(t, domain.StatusFailed, m.Records[0].Status)
}

func TestManifestKnownURLs(t *testing.T) {
	t.Parallel()

	m := domain.Manifest{Records: []domain.Record{
		{VideoID: "a", URL: "https://v/a", Status: domain.StatusSuccess},
		{VideoID: "b", URL: "https://v/b", Status: domain.StatusPending},
		{VideoID: "c", Status: domain.StatusSuccess},
	}}

	all := m.KnownURLs("")
	assert.Len(t, all, 2)

	succeeded := m.KnownURLs(domain.StatusSuccess)
	require.Len(t, succeeded, 1)
	assert.Contains(t, succeeded, "https://v/a")
}

func TestSanitizeLanguageFolder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean", input: "vietnamese", want: "vietnamese"},
		{name: "separator", input: "viet/namese", want: "viet_namese"},
		{name: "traversal", input: "../../etc", want: "etc"},
		{name: "backslash", input: `viet\namese`, want: "viet_namese"},
		{name: "empty", input: "", want: "unknown"},
		{name: "only dots", input: "...", want: "unknown"},
		{name: "whitespace", input: "  english  ", want: "english"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, domain.SanitizeLanguageFolder(tt.input))
		})
	}
}
