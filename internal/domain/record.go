// Package domain defines the core data model shared across the pipeline.
package domain

import (
	"strings"
	"time"
)

// Record status constants. Status reflects the download outcome only;
// classification state is tracked by the Classified flag and its companions.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record represents one discovered video and its processing state.
type Record struct {
	// Identity
	VideoID         string `json:"video_id"`
	URL             string `json:"url"`
	Title           string `json:"title,omitempty"`
	ChannelUsername string `json:"channel_username,omitempty"`

	// Download state
	Status          string  `json:"status"`
	OutputPath      *string `json:"output_path"`
	DownloadIndex   int     `json:"download_index"`
	DurationSeconds float64 `json:"duration_seconds"`

	// Classification state. A record counts as classified only when all
	// three of ContainingChildrenVoice, VoiceAnalysisConfidence and
	// ClassificationTimestamp are set.
	Classified              bool       `json:"classified"`
	ContainingChildrenVoice *bool      `json:"containing_children_voice"`
	VoiceAnalysisConfidence *float64   `json:"voice_analysis_confidence"`
	ClassificationTimestamp *time.Time `json:"classification_timestamp"`
	LanguageFolder          string     `json:"language_folder,omitempty"`

	// Placement state
	FileAvailable bool `json:"file_available"`
	Uploaded      bool `json:"uploaded"`

	// Queue bookkeeping, stamped by the coordinator on claim.
	InstanceID        string     `json:"instance_id,omitempty"`
	ProcessingStarted *time.Time `json:"processing_started,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HasIdentity reports whether the record carries a usable video id.
// Records without identity are excluded from dedup and active processing.
func (r *Record) HasIdentity() bool {
	return strings.TrimSpace(r.VideoID) != ""
}

// ClassificationComplete reports whether the full classification tuple is
// present. Classified=true with any piece missing means an earlier run was
// interrupted; such records must be re-analyzed.
func (r *Record) ClassificationComplete() bool {
	return r.Classified &&
		r.ContainingChildrenVoice != nil &&
		r.VoiceAnalysisConfidence != nil &&
		r.ClassificationTimestamp != nil
}

// NeedsAnalysis reports whether the analyze phase should process this record.
func (r *Record) NeedsAnalysis() bool {
	return r.Status == StatusSuccess && !r.ClassificationComplete()
}

// NeedsDownload reports whether the download phase should process this record.
func (r *Record) NeedsDownload() bool {
	return r.Status == StatusPending || (r.Status == StatusSuccess && r.OutputPath == nil)
}

// Qualified reports whether the record passed both the language and voice
// checks.
func (r *Record) Qualified() bool {
	return r.ClassificationComplete() && *r.ContainingChildrenVoice
}

// SetClassification records a complete classification tuple.
func (r *Record) SetClassification(childrenVoice bool, confidence float64, lang string, at time.Time) {
	r.Classified = true
	r.ContainingChildrenVoice = &childrenVoice
	r.VoiceAnalysisConfidence = &confidence
	r.LanguageFolder = lang
	r.ClassificationTimestamp = &at
}

// Manifest is the authoritative on-disk document: every video ever seen,
// with a derived total duration.
type Manifest struct {
	TotalDurationSeconds float64  `json:"total_duration_seconds"`
	Records              []Record `json:"records"`
}

// RecomputeTotalDuration recalculates the derived duration sum from records.
// The stored value is never trusted as authoritative.
func (m *Manifest) RecomputeTotalDuration() {
	var total float64
	for i := range m.Records {
		d := m.Records[i].DurationSeconds
		if d > 0 {
			total += d
		}
	}
	m.TotalDurationSeconds = total
}

// FindByID returns the record with the given video id, or nil.
func (m *Manifest) FindByID(videoID string) *Record {
	for i := range m.Records {
		if m.Records[i].VideoID == videoID {
			return &m.Records[i]
		}
	}
	return nil
}

// KnownURLs returns the set of URLs present in the manifest, restricted to
// records with the given status when status is non-empty.
func (m *Manifest) KnownURLs(status string) map[string]struct{} {
	urls := make(map[string]struct{}, len(m.Records))
	for i := range m.Records {
		r := &m.Records[i]
		if r.URL == "" {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		urls[r.URL] = struct{}{}
	}
	return urls
}

// SanitizeLanguageFolder strips path separators and traversal sequences from
// a detected-language bucket so it is safe to use as a directory name.
func SanitizeLanguageFolder(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.Trim(name, "._ ")
	if name == "" {
		return "unknown"
	}
	return name
}
