package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/manifest"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
}

func strPtr(s string) *string { return &s }

func TestResolveOutputPathCurrentPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "0001_abc.m4a")
	writeFile(t, path)

	rec := domain.Record{VideoID: "abc", OutputPath: strPtr(path)}
	got, ok := manifest.ResolveOutputPath(&rec, dir)

	assert.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolveOutputPathRecoversMovedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// The file was moved into a language folder after download.
	actual := filepath.Join(dir, "vietnamese", "0001_abc.m4a")
	writeFile(t, actual)

	stale := filepath.Join(dir, "incoming", "0001_abc.m4a")
	rec := domain.Record{VideoID: "abc", OutputPath: strPtr(stale)}

	got, ok := manifest.ResolveOutputPath(&rec, dir)
	assert.True(t, ok)
	assert.Equal(t, actual, got)
}

func TestResolveOutputPathMissingEverywhere(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := domain.Record{VideoID: "abc", OutputPath: strPtr(filepath.Join(dir, "gone.m4a"))}

	_, ok := manifest.ResolveOutputPath(&rec, dir)
	assert.False(t, ok)
}

func TestResolveOutputPathNilPath(t *testing.T) {
	t.Parallel()

	rec := domain.Record{VideoID: "abc"}
	_, ok := manifest.ResolveOutputPath(&rec, t.TempDir())
	assert.False(t, ok)
}

func TestRefreshFileAvailability(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "0001_keep.m4a")
	writeFile(t, present)
	moved := filepath.Join(dir, "vietnamese", "0002_moved.m4a")
	writeFile(t, moved)

	m := &domain.Manifest{Records: []domain.Record{
		{VideoID: "keep", OutputPath: strPtr(present), FileAvailable: false},
		{VideoID: "moved", OutputPath: strPtr(filepath.Join(dir, "0002_moved.m4a")), FileAvailable: true},
		{VideoID: "gone", OutputPath: strPtr(filepath.Join(dir, "0003_gone.m4a")), FileAvailable: true},
		{VideoID: "never", FileAvailable: true},
	}}

	corrected := manifest.RefreshFileAvailability(m, dir)

	assert.Equal(t, 1, corrected)
	assert.True(t, m.Records[0].FileAvailable)
	assert.True(t, m.Records[1].FileAvailable)
	assert.Equal(t, moved, *m.Records[1].OutputPath)
	assert.False(t, m.Records[2].FileAvailable)
	assert.False(t, m.Records[3].FileAvailable)
}
