package pipeline

import (
	"context"
	"fmt"

	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// Upload ships every qualifying, available, not-yet-uploaded file to the
// corpus store. Uploaded flips only for files that actually succeeded; a
// failed upload stays retryable on the next pass.
func (p *Pipeline) Upload(ctx context.Context) (*PhaseResult, error) {
	res := &PhaseResult{}
	m, err := p.store.Load()
	if err != nil {
		return res, err
	}

	for i := range m.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec := &m.Records[i]
		if !rec.HasIdentity() || !rec.Qualified() || !rec.FileAvailable || rec.Uploaded {
			continue
		}
		res.Processed++

		path, found := manifest.ResolveOutputPath(rec, p.cfg.AudioDir)
		if !found {
			rec.FileAvailable = false
			res.Skipped++
			continue
		}

		err := retry.Do(ctx, p.cfg.Retry, func() error {
			return p.collab.Upload(ctx, path, rec.VideoID)
		})
		if err != nil {
			res.fail(rec.VideoID, fmt.Errorf("upload: %w", err))
			continue
		}

		rec.Uploaded = true
		if err := p.store.Save(m, manifest.OriginFinalAudio); err != nil {
			rec.Uploaded = false
			res.fail(rec.VideoID, fmt.Errorf("persist upload state: %w", err))
			continue
		}
		res.Succeeded++
	}

	observeManifest(m)
	return res, nil
}
