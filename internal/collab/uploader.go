package collab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

const defaultUploadTimeout = 10 * time.Minute

// HTTPUploader ships accepted audio files to the corpus ingestion endpoint.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
	logger  logger.Interface
}

// NewHTTPUploader creates an uploader for the given ingestion URL.
func NewHTTPUploader(baseURL string, timeout time.Duration, log logger.Interface) (*HTTPUploader, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("uploader base URL is required")
	}
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &HTTPUploader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent("uploader"),
	}, nil
}

// Upload streams the audio file to the ingestion endpoint keyed by video id.
func (u *HTTPUploader) Upload(ctx context.Context, audioPath, videoID string) error {
	file, err := os.Open(audioPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errkind.Wrap(errkind.NotFound,
				fmt.Sprintf("audio file %s does not exist", audioPath), err)
		}
		return fmt.Errorf("open audio file %s: %w", audioPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat audio file %s: %w", audioPath, err)
	}

	endpoint := fmt.Sprintf("%s/corpus/%s/%s", u.baseURL,
		url.PathEscape(videoID), url.PathEscape(filepath.Base(audioPath)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, file)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "upload request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		u.logger.Debug("audio uploaded", "video_id", videoID, "bytes", info.Size())
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return errkind.Newf(errkind.Transient, "upload returned status %d", resp.StatusCode)
	default:
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
}
