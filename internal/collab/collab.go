// Package collab defines the external audio collaborator contract: download
// a video's audio to a local file, classify a local audio file, upload an
// accepted file. Implementations wrap external tools and services; the
// pipeline depends only on these interfaces.
package collab

import "context"

// DownloadResult is the outcome of a successful download.
type DownloadResult struct {
	// AudioPath is the local path of the extracted audio file.
	AudioPath string
	// DurationSeconds is the audio duration as reported by the downloader.
	DurationSeconds float64
}

// Classification is the verdict on one audio file.
type Classification struct {
	// IsTargetLanguage reports whether the detected speech language matches
	// the configured target.
	IsTargetLanguage bool `json:"is_target_language"`
	// DetectedLanguage is the detected language name, empty when unknown.
	DetectedLanguage string `json:"detected_language"`
	// HasTargetVoice reports whether the target voice type was detected.
	HasTargetVoice bool `json:"has_target_voice"`
	// Confidence is the voice verdict confidence in [0, 1].
	Confidence float64 `json:"confidence"`
	// Error carries a classifier-side failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Qualified reports whether the classification passes both checks.
func (c *Classification) Qualified() bool {
	return c.IsTargetLanguage && c.HasTargetVoice
}

// Downloader fetches a video's audio track to a local file.
type Downloader interface {
	Download(ctx context.Context, url string) (*DownloadResult, error)
}

// Classifier produces a language/voice verdict for a local audio file.
type Classifier interface {
	Classify(ctx context.Context, audioPath string) (*Classification, error)
}

// Uploader ships an accepted audio file to the corpus store.
type Uploader interface {
	Upload(ctx context.Context, audioPath, videoID string) error
}

// Collaborator bundles the full external contract.
type Collaborator interface {
	Downloader
	Classifier
	Uploader
}

// Bundle composes independent implementations into one Collaborator.
type Bundle struct {
	Downloader
	Classifier
	Uploader
}

// NewBundle builds a Collaborator from its three parts.
func NewBundle(d Downloader, c Classifier, u Uploader) *Bundle {
	return &Bundle{Downloader: d, Classifier: c, Uploader: u}
}
