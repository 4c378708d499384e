package domain

import "time"

// Candidate is a video surfaced by discovery, before any download attempt.
// Only metadata the platform search API returns is present.
type Candidate struct {
	VideoID         string  `json:"video_id"`
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	ChannelUsername string  `json:"channel_username,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	ViewCount       int64   `json:"view_count"`
}

// ToRecord converts the candidate into a pending manifest record.
func (c *Candidate) ToRecord(now time.Time) Record {
	return Record{
		VideoID:         c.VideoID,
		URL:             c.URL,
		Title:           c.Title,
		ChannelUsername: c.ChannelUsername,
		Status:          StatusPending,
		DurationSeconds: c.DurationSeconds,
		Timestamp:       now,
	}
}
