package manifest

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vietspeech/kidcrawl/internal/domain"
)

// ResolveOutputPath verifies that a record's output path resolves to an
// existing file. If the recorded path is stale it falls back to a recursive
// search for the same base name under searchRoot. Returns the resolved path
// and whether the file was found.
func ResolveOutputPath(rec *domain.Record, searchRoot string) (string, bool) {
	if rec.OutputPath != nil {
		if fileExists(*rec.OutputPath) {
			return *rec.OutputPath, true
		}
	}

	if rec.OutputPath == nil || searchRoot == "" {
		return "", false
	}

	base := filepath.Base(*rec.OutputPath)
	if base == "." || base == string(filepath.Separator) {
		return "", false
	}

	found := ""
	_ = filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == base {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", false
	}
	return found, true
}

// RefreshFileAvailability recomputes file_available for every record,
// correcting stale output paths via filename search. Returns the number of
// records whose path was corrected.
func RefreshFileAvailability(m *domain.Manifest, searchRoot string) int {
	corrected := 0
	for i := range m.Records {
		rec := &m.Records[i]
		if rec.OutputPath == nil {
			rec.FileAvailable = false
			continue
		}
		path, ok := ResolveOutputPath(rec, searchRoot)
		rec.FileAvailable = ok
		if ok && path != *rec.OutputPath {
			rec.OutputPath = &path
			corrected++
		}
	}
	return corrected
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
