package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// URLFile is the newline-delimited collected-URLs companion file. Discovery
// appends to it; the filter phase de-duplicates it by exact line match.
type URLFile struct {
	path string
}

// NewURLFile creates a URL file handle for the given path.
func NewURLFile(path string) *URLFile {
	return &URLFile{path: path}
}

// Path returns the file path.
func (f *URLFile) Path() string {
	return f.path
}

// Load returns the set of URLs currently in the file. A missing file is an
// empty set.
func (f *URLFile) Load() (map[string]struct{}, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open url file %s: %w", f.path, err)
	}
	defer file.Close()

	urls := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file %s: %w", f.path, err)
	}
	return urls, nil
}

// Append adds one URL as a new line. Append-only during discovery.
func (f *URLFile) Append(url string) error {
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open url file %s for append: %w", f.path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(url + "\n"); err != nil {
		return fmt.Errorf("append to url file %s: %w", f.path, err)
	}
	return nil
}

// Dedupe rewrites the file keeping the first occurrence of each exact line.
// Returns the number of duplicate lines removed.
func (f *URLFile) Dedupe() (int, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open url file %s: %w", f.path, err)
	}

	seen := make(map[string]struct{})
	var kept []string
	removed := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			removed++
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("read url file %s: %w", f.path, scanErr)
	}

	if removed == 0 {
		return 0, nil
	}

	var b strings.Builder
	for _, line := range kept {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := writeBytesAtomic(f.path, []byte(b.String())); err != nil {
		return 0, err
	}
	return removed, nil
}

// writeBytesAtomic writes data to path via temp file and rename. The temp
// file lives in the target directory so the rename stays atomic.
func writeBytesAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".kidcrawl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
