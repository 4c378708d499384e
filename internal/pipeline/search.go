package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/manifest"
)

// Search runs discovery for every configured query and appends brand-new
// pending records to the manifest. Existing records are never mutated. A
// quota exhaustion stops further queries but keeps everything discovered so
// far; partial results are persisted before the error is returned.
func (p *Pipeline) Search(ctx context.Context) (*PhaseResult, error) {
	if p.engine == nil {
		return nil, errors.New("search phase requires a discovery engine")
	}

	res := &PhaseResult{}
	m, err := p.store.Load()
	if err != nil {
		return res, err
	}

	var quotaErr error
	for _, query := range p.cfg.Queries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		candidates, stats, err := p.engine.DiscoverQuery(ctx, query)
		if err != nil && !errkind.IsQuotaExhausted(err) {
			res.fail("", fmt.Errorf("query %q: %w", query, err))
			continue
		}
		if err != nil {
			// Quota: keep the partial page results, stop querying.
			quotaErr = err
		}

		added := 0
		var newURLs []string
		for i := range candidates {
			c := &candidates[i]
			res.Processed++
			if existing := m.FindByID(c.VideoID); existing != nil {
				res.Skipped++
				continue
			}
			m.Records = append(m.Records, c.ToRecord(time.Now().UTC()))
			newURLs = append(newURLs, c.URL)
			added++
			res.Succeeded++
		}

		if added > 0 {
			if err := p.store.Save(m, manifest.OriginURL); err != nil {
				// Roll back so memory and disk cannot diverge. URLs were not
				// appended yet, so the candidates stay discoverable.
				m.Records = m.Records[:len(m.Records)-added]
				res.Succeeded -= added
				res.Failed += added
				return res, fmt.Errorf("persist discovered records: %w", err)
			}
			// The manifest already holds these records, so a failed append
			// cannot resurrect them on a later pass.
			for _, u := range newURLs {
				if err := p.urlFile.Append(u); err != nil {
					p.logger.Warn("append url file", "url", u, "error", err)
				}
			}
		}

		p.logger.Info("query discovered",
			"query", query,
			"pages", stats.Pages,
			"fetched", stats.Fetched,
			"duplicates", stats.Duplicates,
			"added", added,
		)

		if quotaErr != nil {
			break
		}
	}

	observeManifest(m)
	if quotaErr != nil {
		return res, quotaErr
	}
	return res, nil
}
