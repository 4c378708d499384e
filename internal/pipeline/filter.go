package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/manifest"
)

// Filter settles every fully classified record's file placement: qualifying
// audio moves into a directory named after its sanitized language bucket,
// rejected audio moves into the no-voice directory instead of being deleted.
// Stale recorded paths are corrected by filename search first. The phase also
// prunes duplicate video ids from the manifest and deduplicates the
// collected-URLs file.
func (p *Pipeline) Filter(ctx context.Context) (*PhaseResult, error) {
	res := &PhaseResult{}
	m, err := p.store.Load()
	if err != nil {
		return res, err
	}

	pruned := pruneDuplicates(m)
	if pruned > 0 {
		p.logger.Warn("duplicate records pruned", "count", pruned)
	}

	for i := range m.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec := &m.Records[i]
		if !rec.HasIdentity() || !rec.ClassificationComplete() || rec.Status != domain.StatusSuccess {
			continue
		}
		res.Processed++

		path, found := manifest.ResolveOutputPath(rec, p.cfg.AudioDir)
		if !found {
			// Never fatal: the record stays, flagged as missing its file.
			if rec.FileAvailable {
				p.logger.Warn("audio file missing", "video_id", rec.VideoID)
			}
			rec.FileAvailable = false
			res.Skipped++
			continue
		}

		destDir := p.cfg.RejectDir
		if rec.Qualified() {
			destDir = filepath.Join(p.cfg.AudioDir, domain.SanitizeLanguageFolder(rec.LanguageFolder))
		}

		if err := p.placeFile(rec, path, destDir); err != nil {
			res.fail(rec.VideoID, err)
			continue
		}
		res.Succeeded++
	}

	if corrected := manifest.RefreshFileAvailability(m, p.cfg.AudioDir); corrected > 0 {
		p.logger.Info("file availability corrected", "count", corrected)
	}

	if err := p.store.Save(m, manifest.OriginFinalAudio); err != nil {
		return res, fmt.Errorf("persist filtered manifest: %w", err)
	}

	if removed, err := p.urlFile.Dedupe(); err != nil {
		p.logger.Warn("url file dedupe failed", "error", err)
	} else if removed > 0 {
		p.logger.Info("url file deduplicated", "removed", removed)
	}

	observeManifest(m)
	return res, nil
}

// placeFile moves a record's audio into destDir, updating the record's path.
// Already-placed files are left alone.
func (p *Pipeline) placeFile(rec *domain.Record, path, destDir string) error {
	dest := filepath.Join(destDir, filepath.Base(path))
	if path == dest {
		rec.OutputPath = &dest
		rec.FileAvailable = true
		return nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}
	if err := moveFile(path, dest); err != nil {
		return fmt.Errorf("move to %s: %w", destDir, err)
	}
	rec.OutputPath = &dest
	rec.FileAvailable = true
	return nil
}

// pruneDuplicates removes records sharing a video id, keeping the first.
func pruneDuplicates(m *domain.Manifest) int {
	seen := make(map[string]struct{}, len(m.Records))
	kept := m.Records[:0]
	dropped := 0
	for i := range m.Records {
		r := m.Records[i]
		if r.HasIdentity() {
			if _, dup := seen[r.VideoID]; dup {
				dropped++
				continue
			}
			seen[r.VideoID] = struct{}{}
		}
		kept = append(kept, r)
	}
	m.Records = kept
	return dropped
}
