package pipeline_test

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/pipeline"
)

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	results := []pipeline.PhaseResult{
		{Phase: "search", Processed: 10, Succeeded: 8, Skipped: 2, Duration: 1200 * time.Millisecond},
		{
			Phase: "download", Processed: 8, Succeeded: 7, Failed: 1,
			Errors:   []pipeline.ItemError{{VideoID: "v42", Message: "video unavailable"}},
			Duration: 30 * time.Second,
		},
	}

	var buf bytes.Buffer
	pipeline.WriteSummary(&buf, results)

	out := buf.String()
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "download")
	assert.Contains(t, out, "v42")
	assert.Contains(t, out, "video unavailable")
}

func TestWriteSummaryNoErrorsOmitsErrorTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	pipeline.WriteSummary(&buf, []pipeline.PhaseResult{
		{Phase: "upload", Processed: 3, Succeeded: 3},
	})

	assert.NotContains(t, buf.String(), "Errors")
}

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &pagePlatform{page: &discovery.Page{}})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var passes atomic.Int32
	err := h.pipeline.RunForever(ctx, pipeline.ForeverConfig{
		CycleCooldown: 10 * time.Millisecond,
		QuotaPause:    10 * time.Millisecond,
	}, func([]pipeline.PhaseResult) {
		passes.Add(1)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, passes.Load(), int32(2), "cooldown passes must keep cycling")
}

func TestRunForeverRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	err := h.pipeline.RunForever(context.Background(), pipeline.ForeverConfig{
		CycleSchedule: "not a cron expression",
	}, nil)
	assert.Error(t, err)
}
