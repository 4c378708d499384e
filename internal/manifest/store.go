// Package manifest owns durable, atomic, corruption-resistant storage of the
// video record manifest.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

// Backup origins. Backups are segregated by which phase triggered the save so
// an operator can tell a discovery-time snapshot from a post-filter one.
const (
	OriginURL        = "url"
	OriginAudio      = "audio"
	OriginFinalAudio = "final-audio"
)

const backupTimeFormat = "20060102-150405"

// Store persists the manifest document with atomic replace semantics.
type Store struct {
	path       string
	backupRoot string
	logger     logger.Interface
}

// NewStore creates a manifest store for the given file path. Backups are
// written under backupRoot, segregated per origin.
func NewStore(path, backupRoot string, log logger.Interface) *Store {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Store{
		path:       path,
		backupRoot: backupRoot,
		logger:     log.WithComponent("manifest"),
	}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// rawManifest mirrors the on-disk document with records left undecoded so
// legacy-schema migration can run before typed decoding.
type rawManifest struct {
	TotalDurationSeconds float64           `json:"total_duration_seconds"`
	Records              []json.RawMessage `json:"records"`
}

// Load reads the manifest. A missing file yields an empty manifest; a parse
// failure is a data-corruption error with byte offsets where available, never
// silently replaced by an empty document.
func (s *Store) Load() (*domain.Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.Manifest{Records: []domain.Record{}}, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", s.path, err)
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, corruptionError(s.path, err)
	}

	m := &domain.Manifest{
		TotalDurationSeconds: raw.TotalDurationSeconds,
		Records:              make([]domain.Record, 0, len(raw.Records)),
	}

	seen := make(map[string]struct{}, len(raw.Records))
	dropped := 0
	for i, rawRec := range raw.Records {
		rec, decodeErr := s.decodeRecord(rawRec)
		if decodeErr != nil {
			return nil, corruptionError(s.path, fmt.Errorf("record %d: %w", i, decodeErr))
		}

		if rec.HasIdentity() {
			if _, dup := seen[rec.VideoID]; dup {
				dropped++
				s.logger.Warn("dropping duplicate manifest record",
					"video_id", rec.VideoID,
					"index", i,
				)
				continue
			}
			seen[rec.VideoID] = struct{}{}
		}
		m.Records = append(m.Records, rec)
	}

	if dropped > 0 {
		s.logger.Warn("manifest contained duplicate video ids",
			"dropped", dropped,
			"kept", len(m.Records),
		)
	}

	return m, nil
}

// decodeRecord migrates a raw record map through the ordered legacy-schema
// steps and decodes it into the canonical type.
func (s *Store) decodeRecord(rawRec json.RawMessage) (domain.Record, error) {
	var rawMap map[string]any
	if err := json.Unmarshal(rawRec, &rawMap); err != nil {
		return domain.Record{}, err
	}

	if applied := domain.MigrateRawRecord(rawMap); len(applied) > 0 {
		s.logger.Info("migrated legacy record fields",
			"video_id", rawMap["video_id"],
			"steps", applied,
		)
	}

	canonical, err := json.Marshal(rawMap)
	if err != nil {
		return domain.Record{}, err
	}

	var rec domain.Record
	if err := json.Unmarshal(canonical, &rec); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// Save persists the manifest: backup of the current file, recomputed total
// duration, temp-file write, atomic rename. Readers never observe a
// half-written manifest. The in-memory document is not mutated on failure
// except for the recomputed duration sum.
func (s *Store) Save(m *domain.Manifest, origin string) error {
	if err := s.backupCurrent(origin); err != nil {
		return err
	}

	for i := range m.Records {
		if m.Records[i].DurationSeconds < 0 {
			s.logger.Warn("negative duration treated as zero",
				"video_id", m.Records[i].VideoID,
				"duration", m.Records[i].DurationSeconds,
			)
			m.Records[i].DurationSeconds = 0
		}
	}
	m.RecomputeTotalDuration()

	return writeJSONAtomic(s.path, m)
}

// backupCurrent copies the existing manifest into the origin's backup
// directory with a timestamped name. A missing manifest needs no backup.
func (s *Store) backupCurrent(origin string) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read manifest for backup: %w", err)
	}

	dir := filepath.Join(s.backupRoot, origin)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%s.json", filepath.Base(s.path), time.Now().UTC().Format(backupTimeFormat))
	backupPath := filepath.Join(dir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest backup %s: %w", backupPath, err)
	}
	return nil
}

// writeJSONAtomic writes v pretty-printed to path via a temp file in the same
// directory followed by an atomic rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".kidcrawl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// corruptionError wraps a JSON decode failure as a data-corruption error,
// including the byte offset when the decoder reports one.
func corruptionError(path string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return errkind.Wrap(errkind.DataCorruption,
			fmt.Sprintf("manifest %s is corrupt at byte offset %d", path, syntaxErr.Offset), err)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return errkind.Wrap(errkind.DataCorruption,
			fmt.Sprintf("manifest %s has malformed field %q at byte offset %d", path, typeErr.Field, typeErr.Offset), err)
	}
	return errkind.Wrap(errkind.DataCorruption,
		fmt.Sprintf("manifest %s is corrupt", path), err)
}
