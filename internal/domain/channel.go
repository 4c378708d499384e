package domain

import "time"

// ChannelInfo accumulates per-channel qualification statistics. Created on
// the first video seen from a channel, updated on every analysis, never
// deleted.
type ChannelInfo struct {
	Username        string    `json:"username"`
	QualifiedVideos int       `json:"qualified_videos"`
	TotalAnalyzed   int       `json:"total_analyzed"`
	QualityScore    float64   `json:"quality_score"`
	LastCrawled     time.Time `json:"last_crawled"`
}

// RecordAnalysis folds one analyzed video into the channel's counters and
// refreshes the derived quality score.
func (c *ChannelInfo) RecordAnalysis(qualified bool, at time.Time) {
	c.TotalAnalyzed++
	if qualified {
		c.QualifiedVideos++
	}
	c.QualityScore = float64(c.QualifiedVideos) / float64(c.TotalAnalyzed)
	c.LastCrawled = at
}

// Promising reports whether the channel has enough history and a high enough
// qualification rate to be fed back into the query set.
func (c *ChannelInfo) Promising(minVideosAnalyzed int, minQualityScore float64) bool {
	return c.TotalAnalyzed >= minVideosAnalyzed && c.QualityScore >= minQualityScore
}
