package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// Analyze classifies every record that is unclassified or carries an
// incomplete classification tuple from an interrupted run. The full tuple is
// persisted after each file, so a crash mid-phase loses at most one video's
// work. Qualifying videos feed the channel discovery loop.
func (p *Pipeline) Analyze(ctx context.Context) (*PhaseResult, error) {
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
		if !rec.HasIdentity() || !rec.NeedsAnalysis() {
			continue
		}
		res.Processed++

		qualified, err := p.analyzeRecord(ctx, m, rec)
		if err != nil {
			res.fail(rec.VideoID, err)
			continue
		}
		res.Succeeded++

		p.recordChannelAnalysis(rec.ChannelUsername, qualified)
		if qualified && p.cfg.ChannelMining && p.miner != nil && rec.ChannelUsername != "" {
			p.mineChannel(ctx, m, rec.ChannelUsername)
		}
	}

	observeManifest(m)
	return res, nil
}

// analyzeRecord classifies one record's audio and persists the result.
func (p *Pipeline) analyzeRecord(ctx context.Context, m *domain.Manifest, rec *domain.Record) (bool, error) {
	path, found := manifest.ResolveOutputPath(rec, p.cfg.AudioDir)
	if !found {
		return false, fmt.Errorf("audio file not found for %s", rec.VideoID)
	}

	cls, err := retry.DoWithResult(ctx, p.cfg.Retry, func() (*collab.Classification, error) {
		return p.collab.Classify(ctx, path)
	})
	if err != nil {
		return false, fmt.Errorf("classify: %w", err)
	}
	if cls.Error != "" {
		return false, fmt.Errorf("classifier rejected %s: %s", rec.VideoID, cls.Error)
	}

	prev := *rec
	qualified := cls.Qualified()
	lang := cls.DetectedLanguage
	if lang == "" {
		lang = "unknown"
	}
	rec.SetClassification(qualified, cls.Confidence, lang, time.Now().UTC())
	if err := p.store.Save(m, manifest.OriginAudio); err != nil {
		*rec = prev
		return false, fmt.Errorf("persist classification: %w", err)
	}
	return qualified, nil
}

// recordChannelAnalysis updates the channel's running quality score. Every
// analyzed video counts, qualified or not.
func (p *Pipeline) recordChannelAnalysis(username string, qualified bool) {
	if p.channels == nil || username == "" {
		return
	}
	if err := p.channels.RecordAnalysis(username, qualified); err != nil {
		p.logger.Warn("channel bookkeeping failed", "username", username, "error", err)
	}
}

// mineChannel walks a qualifying video's channel, running every new upload
// through the same download-and-classify qualification. Mining failures
// never fail the analyze phase.
func (p *Pipeline) mineChannel(ctx context.Context, m *domain.Manifest, username string) {
	result, err := p.miner.Mine(ctx, username, func(ctx context.Context, c *domain.Candidate) (bool, error) {
		return p.qualifyCandidate(ctx, m, c)
	})
	if err != nil {
		p.logger.Warn("channel mining failed", "username", username, "error", err)
		return
	}
	if result.Processed > 0 {
		p.logger.Info("channel mined",
			"username", username,
			"processed", result.Processed,
			"qualified", result.Qualified,
			"qualification_rate", result.QualificationRate,
			"promising", result.Promising,
		)
	}
}

// qualifyCandidate runs a channel-mined candidate through download and
// classification, appending a fully-settled record to the manifest. Videos
// found this way never trigger further channel discovery.
func (p *Pipeline) qualifyCandidate(ctx context.Context, m *domain.Manifest, c *domain.Candidate) (bool, error) {
	if existing := m.FindByID(c.VideoID); existing != nil {
		return existing.Qualified(), nil
	}
	if err := p.urlFile.Append(c.URL); err != nil {
		return false, fmt.Errorf("append url file: %w", err)
	}

	rec := c.ToRecord(time.Now().UTC())
	m.Records = append(m.Records, rec)
	target := &m.Records[len(m.Records)-1]

	if err := p.downloadOne(ctx, m, target.VideoID); err != nil {
		return false, err
	}
	return p.analyzeRecord(ctx, m, target)
}
