// Package discovery turns search queries and channel names into new
// candidate records, deduplicated against everything already known.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vietspeech/kidcrawl/internal/domain"
	"github.com/vietspeech/kidcrawl/internal/errkind"
)

// Page is one page of platform search results.
type Page struct {
	Items      []domain.Candidate `json:"items"`
	NextCursor string             `json:"next_cursor"`
	HasMore    bool               `json:"has_more"`
}

// Platform is the video platform search surface. Implementations wrap the
// per-platform APIs; the engine only sees pages of candidates and cursors.
type Platform interface {
	// SearchPage fetches one page of keyword search results.
	SearchPage(ctx context.Context, query, cursor string) (*Page, error)
	// ChannelPage fetches one page of a channel's uploads.
	ChannelPage(ctx context.Context, username, cursor string) (*Page, error)
}

const defaultPlatformTimeout = 30 * time.Second

// APIClient is a Platform over the search-proxy HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a platform client for the given search-proxy URL.
func NewAPIClient(baseURL string, timeout time.Duration) (*APIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if timeout <= 0 {
		timeout = defaultPlatformTimeout
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// SearchPage fetches one keyword search page.
func (c *APIClient) SearchPage(ctx context.Context, query, cursor string) (*Page, error) {
	params := url.Values{}
	params.Set("q", query)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return c.fetchPage(ctx, "/api/v1/search", params)
}

// ChannelPage fetches one page of a channel's uploads.
func (c *APIClient) ChannelPage(ctx context.Context, username, cursor string) (*Page, error) {
	params := url.Values{}
	params.Set("username", username)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return c.fetchPage(ctx, "/api/v1/channel", params)
}

func (c *APIClient) fetchPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build platform request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "platform request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusForbidden:
		return nil, errkind.Newf(errkind.QuotaExhausted, "platform returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errkind.Newf(errkind.Transient, "platform returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errkind.Newf(errkind.NotFound, "platform returned status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("platform returned status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode platform page: %w", err)
	}
	return &page, nil
}
