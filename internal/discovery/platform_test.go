package discovery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/errkind"
)

func TestAPIClientSearchPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "bé tập nói", r.URL.Query().Get("q"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"items": [{"video_id": "v1", "url": "https://v/v1", "title": "t"}],
			"next_cursor": "def",
			"has_more": true
		}`))
	}))
	defer srv.Close()

	client, err := discovery.NewAPIClient(srv.URL, time.Second)
	require.NoError(t, err)

	page, err := client.SearchPage(context.Background(), "bé tập nói", "abc")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "v1", page.Items[0].VideoID)
	assert.Equal(t, "def", page.NextCursor)
	assert.True(t, page.HasMore)
}

func TestAPIClientChannelPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/channel", r.URL.Path)
		assert.Equal(t, "kenh-tre-em", r.URL.Query().Get("username"))
		_, _ = w.Write([]byte(`{"items": [], "has_more": false}`))
	}))
	defer srv.Close()

	client, err := discovery.NewAPIClient(srv.URL, time.Second)
	require.NoError(t, err)

	page, err := client.ChannelPage(context.Background(), "kenh-tre-em", "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestAPIClientStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "forbidden means quota",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.True(t, errkind.IsQuotaExhausted(err))
			},
		},
		{
			name:   "rate limited is transient",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.True(t, errkind.IsTransient(err))
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				assert.True(t, errkind.IsTransient(err))
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.True(t, errkind.IsNotFound(err))
			},
		},
		{
			name:   "other statuses unclassified",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.False(t, errkind.IsTransient(err))
				assert.False(t, errkind.IsQuotaExhausted(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client, err := discovery.NewAPIClient(srv.URL, time.Second)
			require.NoError(t, err)

			_, err = client.SearchPage(context.Background(), "q", "")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestAPIClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := discovery.NewAPIClient("", time.Second)
	assert.Error(t, err)
}
