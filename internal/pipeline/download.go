package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// Download fetches audio for every record that has no successful download
// yet. Downloads run concurrently up to the configured bound; manifest
// mutations are serialized and persisted per item.
//
// Ordering per item is manifest-first: the record is marked success with its
// final path before the file is moved there. A crash in between leaves a
// manifest entry whose file the filter phase recovers by filename search.
func (p *Pipeline) Download(ctx context.Context) (*PhaseResult, error) {
	res := &PhaseResult{}
	m, err := p.store.Load()
	if err != nil {
		return res, err
	}

	if err := os.MkdirAll(p.cfg.StagingDir, 0o755); err != nil {
		return res, fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.MkdirAll(p.cfg.AudioDir, 0o755); err != nil {
		return res, fmt.Errorf("create audio dir: %w", err)
	}

	var todo []string
	for i := range m.Records {
		r := &m.Records[i]
		if !r.HasIdentity() || !r.NeedsDownload() {
			continue
		}
		if r.URL == "" {
			res.Skipped++
			continue
		}
		todo = append(todo, r.VideoID)
	}
	res.Processed = len(todo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DownloadConcurrency)

	for _, videoID := range todo {
		g.Go(func() error {
			err := p.downloadOne(gctx, m, videoID)

			p.saveMu.Lock()
			defer p.saveMu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.fail(videoID, err)
			} else {
				res.Succeeded++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	observeManifest(m)
	return res, nil
}

// downloadOne downloads one record's audio and persists the outcome. On
// failure the record is written as failed immediately so the candidate is
// never retried as new.
func (p *Pipeline) downloadOne(ctx context.Context, m *domain.Manifest, videoID string) error {
	rec := m.FindByID(videoID)
	if rec == nil {
		return fmt.Errorf("record %s disappeared from manifest", videoID)
	}

	result, err := retry.DoWithResult(ctx, p.cfg.Retry, func() (*collab.DownloadResult, error) {
		return p.collab.Download(ctx, rec.URL)
	})
	if err != nil {
		p.saveMu.Lock()
		defer p.saveMu.Unlock()
		rec.Status = domain.StatusFailed
		if serr := p.store.Save(m, manifest.OriginAudio); serr != nil {
			rec.Status = domain.StatusPending
			return fmt.Errorf("persist failed download: %w", serr)
		}
		return err
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	idx := p.claimIndex(m)
	final := filepath.Join(p.cfg.AudioDir,
		fmt.Sprintf("%04d_%s%s", idx, rec.VideoID, filepath.Ext(result.AudioPath)))

	prev := *rec
	rec.Status = domain.StatusSuccess
	rec.OutputPath = &final
	rec.DownloadIndex = idx
	if result.DurationSeconds > 0 {
		rec.DurationSeconds = result.DurationSeconds
	}
	if err := p.store.Save(m, manifest.OriginAudio); err != nil {
		*rec = prev
		return fmt.Errorf("persist successful download: %w", err)
	}

	if err := moveFile(result.AudioPath, final); err != nil {
		// The manifest already claims the final path; the filter phase's
		// filename search recovers the file from the staging directory.
		p.logger.Warn("downloaded file not yet in final location",
			"video_id", rec.VideoID,
			"from", result.AudioPath,
			"to", final,
			"error", err,
		)
	} else {
		rec.FileAvailable = true
	}
	return nil
}

// moveFile renames src to dst, falling back to copy+remove across devices.
func moveFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".kidcrawl-move-*")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
