package collab

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vietspeech/kidcrawl/internal/errkind"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

// YTDLPDownloader extracts audio with the yt-dlp binary.
type YTDLPDownloader struct {
	outputDir   string
	audioFormat string
	rateLimit   string
	logger      logger.Interface
}

// YTDLPOptions configures the downloader.
type YTDLPOptions struct {
	// OutputDir is where extracted audio files land.
	OutputDir string
	// AudioFormat is the target container, e.g. "wav" or "m4a".
	AudioFormat string
	// RateLimit is passed to yt-dlp --limit-rate when non-empty, e.g. "2M".
	RateLimit string
}

// NewYTDLPDownloader creates a yt-dlp backed downloader.
func NewYTDLPDownloader(opts YTDLPOptions, log logger.Interface) (*YTDLPDownloader, error) {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "wav"
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &YTDLPDownloader{
		outputDir:   opts.OutputDir,
		audioFormat: opts.AudioFormat,
		rateLimit:   opts.RateLimit,
		logger:      log.WithComponent("ytdlp"),
	}, nil
}

// CheckDependencies verifies yt-dlp and ffmpeg are on PATH.
func CheckDependencies() error {
	if _, err := exec.LookPath("yt-dlp"); err != nil {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("missing dependency: ffmpeg is required for audio extraction and was not found on PATH")
	}
	return nil
}

// Download extracts the audio track of url into the output directory and
// returns the final path plus the reported duration.
func (d *YTDLPDownloader) Download(ctx context.Context, url string) (*DownloadResult, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("video URL is required")
	}

	args := []string{
		"--no-playlist",
		"--restrict-filenames",
		"--extract-audio",
		"--audio-format", d.audioFormat,
		"-P", d.outputDir,
		"-o", "%(id)s.%(ext)s",
		"--print", "after_move:%(filepath)s",
		"--print", "after_move:%(duration)s",
		"--no-simulate",
		"--quiet",
	}
	if d.rateLimit != "" {
		args = append(args, "--limit-rate", d.rateLimit)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errkind.ClassifyUpstream(
			fmt.Errorf("yt-dlp failed for %s: %w: %s", url, err, strings.TrimSpace(stderr.String())))
	}

	path, duration, err := parsePrintedOutput(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp output for %s: %w", url, err)
	}

	d.logger.Debug("audio downloaded",
		"url", url,
		"path", path,
		"duration_seconds", duration,
	)
	return &DownloadResult{AudioPath: path, DurationSeconds: duration}, nil
}

// parsePrintedOutput extracts the two --print lines: filepath then duration.
func parsePrintedOutput(out string) (string, float64, error) {
	lines := make([]string, 0, 2)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return "", 0, fmt.Errorf("expected filepath and duration lines, got %d lines", len(lines))
	}

	path := filepath.Clean(lines[0])
	duration, err := strconv.ParseFloat(lines[1], 64)
	if err != nil {
		// NA duration for live fragments; the manifest treats missing as zero.
		duration = 0
	}
	return path, duration, nil
}
