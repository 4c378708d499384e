package manifest

import (
	"time"

	"github.com/vietspeech/kidcrawl/internal/domain"
)

// RepairStats summarizes a repair pass.
type RepairStats struct {
	Quarantined      int
	DefaultsApplied  int
	DuplicatesPruned int
}

// Repair backfills missing fields with explicit defaults and quarantines
// records missing their identity by marking them failed. Every change is
// logged so data loss is visible, never masked. Repair is a separate pass
// from the normal phases; it is the only code allowed to fabricate defaults.
func (s *Store) Repair(m *domain.Manifest, now time.Time) RepairStats {
	var stats RepairStats

	seen := make(map[string]struct{}, len(m.Records))
	kept := m.Records[:0]
	for i := range m.Records {
		rec := m.Records[i]

		if !rec.HasIdentity() {
			if rec.Status != domain.StatusFailed {
				rec.Status = domain.StatusFailed
				stats.Quarantined++
				s.logger.Warn("quarantined record without video id",
					"url", rec.URL,
					"title", rec.Title,
				)
			}
			kept = append(kept, rec)
			continue
		}

		if _, dup := seen[rec.VideoID]; dup {
			stats.DuplicatesPruned++
			s.logger.Warn("pruned duplicate record during repair", "video_id", rec.VideoID)
			continue
		}
		seen[rec.VideoID] = struct{}{}

		if rec.Status == "" {
			rec.Status = domain.StatusPending
			stats.DefaultsApplied++
			s.logger.Warn("defaulted missing status to pending", "video_id", rec.VideoID)
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now
			stats.DefaultsApplied++
			s.logger.Warn("defaulted missing timestamp", "video_id", rec.VideoID)
		}
		// Classified without the full tuple is repaired by clearing the flag
		// so the analyze phase picks the record up again.
		if rec.Classified && !rec.ClassificationComplete() {
			rec.Classified = false
			stats.DefaultsApplied++
			s.logger.Warn("cleared incomplete classification flag", "video_id", rec.VideoID)
		}

		kept = append(kept, rec)
	}
	m.Records = kept

	return stats
}
