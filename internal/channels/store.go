// Package channels implements the channel-discovery feedback loop: when a
// video qualifies, its channel is mined exhaustively and scored, and channels
// with a high enough qualification rate become candidates for the query set.
package channels

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

// channelsDocument is the sidecar file layout.
type channelsDocument struct {
	LastUpdated time.Time                      `json:"last_updated"`
	Channels    map[string]*domain.ChannelInfo `json:"channels"`
}

// Store persists per-channel statistics in a sidecar JSON file. Writes go
// through the same temp-file-plus-rename discipline as the manifest.
type Store struct {
	path   string
	logger logger.Interface
}

// NewStore creates a channel store at the given path.
func NewStore(path string, log logger.Interface) *Store {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Store{path: path, logger: log.WithComponent("channels")}
}

// Load reads all channel statistics. A missing file is an empty set.
func (s *Store) Load() (map[string]*domain.ChannelInfo, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*domain.ChannelInfo{}, nil
		}
		return nil, fmt.Errorf("read channels file %s: %w", s.path, err)
	}

	var doc channelsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errkind.Wrap(errkind.DataCorruption,
			fmt.Sprintf("channels file %s is corrupt", s.path), err)
	}
	if doc.Channels == nil {
		doc.Channels = map[string]*domain.ChannelInfo{}
	}
	return doc.Channels, nil
}

// Save writes all channel statistics atomically.
func (s *Store) Save(channels map[string]*domain.ChannelInfo) error {
	doc := channelsDocument{
		LastUpdated: time.Now().UTC(),
		Channels:    channels,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channels file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(dir, ".kidcrawl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", s.path, err)
	}
	return nil
}

// RecordAnalysis folds one analyzed video into its channel's statistics and
// persists immediately, so a crash mid-channel loses at most one video's
// bookkeeping.
func (s *Store) RecordAnalysis(username string, qualified bool) error {
	if username == "" {
		return nil
	}

	channels, err := s.Load()
	if err != nil {
		return err
	}

	info := channels[username]
	if info == nil {
		info = &domain.ChannelInfo{Username: username}
		channels[username] = info
	}
	info.RecordAnalysis(qualified, time.Now().UTC())

	return s.Save(channels)
}

// Promising returns channels meeting the sample-size and quality thresholds,
// sorted by quality score descending.
func (s *Store) Promising(minVideosAnalyzed int, minQualityScore float64) ([]domain.ChannelInfo, error) {
	channels, err := s.Load()
	if err != nil {
		return nil, err
	}

	var promising []domain.ChannelInfo
	for _, info := range channels {
		if info.Promising(minVideosAnalyzed, minQualityScore) {
			promising = append(promising, *info)
		}
	}
	sort.Slice(promising, func(i, j int) bool {
		return promising[i].QualityScore > promising[j].QualityScore
	})
	return promising, nil
}
