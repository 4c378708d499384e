package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

const defaultClassifyTimeout = 5 * time.Minute

// HTTPClassifier calls the speech classification service. The service wraps
// the language-ID and voice-detection models; this client treats it as a
// black box returning a Classification document.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
	logger  logger.Interface
}

// NewHTTPClassifier creates a classifier client for the given service URL.
func NewHTTPClassifier(baseURL string, timeout time.Duration, log logger.Interface) (*HTTPClassifier, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("classifier base URL is required")
	}
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &HTTPClassifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent("classifier"),
	}, nil
}

// Classify posts the audio file to the classification service and decodes
// the verdict. Server-side failures are classified into error kinds so the
// caller can decide retry policy.
func (c *HTTPClassifier) Classify(ctx context.Context, audioPath string) (*Classification, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.NotFound,
				fmt.Sprintf("audio file %s does not exist", audioPath), err)
		}
		return nil, fmt.Errorf("open audio file %s: %w", audioPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create multipart form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", &body)
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "classifier request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errkind.Newf(errkind.Transient, "classifier returned status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var verdict Classification
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}

	c.logger.Debug("audio classified",
		"path", audioPath,
		"language", verdict.DetectedLanguage,
		"target_voice", verdict.HasTargetVoice,
		"confidence", verdict.Confidence,
	)
	return &verdict, nil
}
