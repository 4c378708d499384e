package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietspeech/kidcrawl/internal/channels"
	"github.com/vietspeech/kidcrawl/internal/collab"
	"github.com/vietspeech/kidcrawl/internal/discovery"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/pipeline"
	"github.com/vietspeech/kidcrawl/internal/queue"
	"github.com/vietspeech/kidcrawl/internal/retry"
)

// NewManifestStore builds the manifest store from storage config.
func NewManifestStore(deps *CommandDeps) *manifest.Store {
	return manifest.NewStore(deps.Config.Storage.ManifestPath, deps.Config.Storage.BackupDir, deps.Logger)
}

// NewQueueCoordinator builds the shared-queue coordinator.
func NewQueueCoordinator(deps *CommandDeps, store *manifest.Store) (*queue.Coordinator, error) {
	return queue.New(queue.Config{
		Path:         deps.Config.Storage.QueuePath,
		BackupDir:    deps.Config.Storage.BackupDir,
		StaleTimeout: deps.Config.Queue.StaleTimeout,
	}, store, deps.Logger)
}

// NewDiscoveryEngine builds the search engine over the platform API client.
func NewDiscoveryEngine(
	deps *CommandDeps,
	store *manifest.Store,
	urlFile *manifest.URLFile,
) (*discovery.Engine, error) {
	client, err := discovery.NewAPIClient(
		deps.Config.Discovery.BaseURL,
		deps.Config.Discovery.RequestTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	filter := discovery.NewFilter(discovery.FilterConfig{
		MinDurationSeconds:  deps.Config.Filter.MinDurationSeconds,
		MaxDurationSeconds:  deps.Config.Filter.MaxDurationSeconds,
		MinViewCount:        deps.Config.Filter.MinViewCount,
		ExcludeKeywords:     deps.Config.Filter.ExcludeKeywords,
		RejectForeignTitles: deps.Config.Filter.RejectForeignTitles,
	})

	return discovery.NewEngine(client, store, urlFile, filter, discovery.Config{
		MaxResults:   deps.Config.Discovery.MaxResults,
		MaxPages:     deps.Config.Discovery.MaxPages,
		PageCooldown: deps.Config.Discovery.PageCooldown,
		Retry:        retry.Config{MaxAttempts: deps.Config.Pipeline.MaxRetries},
	}, deps.Logger)
}

// NewCollaborator builds the downloader, classifier and uploader bundle.
func NewCollaborator(deps *CommandDeps) (collab.Collaborator, error) {
	downloader, err := collab.NewYTDLPDownloader(collab.YTDLPOptions{
		OutputDir: deps.Config.Storage.AudioDir + "/incoming",
	}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create downloader: %w", err)
	}

	classifier, err := collab.NewHTTPClassifier(
		deps.Config.Collab.ClassifierURL,
		deps.Config.Collab.RequestTimeout,
		deps.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	var uploader collab.Uploader = disabledUploader{}
	if deps.Config.Collab.UploaderURL != "" {
		uploader, err = collab.NewHTTPUploader(
			deps.Config.Collab.UploaderURL,
			deps.Config.Collab.RequestTimeout,
			deps.Logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create uploader: %w", err)
		}
	}

	return collab.NewBundle(downloader, classifier, uploader), nil
}

// NewChannelMining builds the channel store and miner when mining is enabled.
// Both are nil when it is not.
func NewChannelMining(
	deps *CommandDeps,
	engine *discovery.Engine,
) (*channels.Miner, *channels.Store, error) {
	if !deps.Config.Channels.Enabled {
		return nil, nil, nil
	}
	store := channels.NewStore(deps.Config.Storage.ChannelsPath, deps.Logger)
	miner, err := channels.NewMiner(engine, store, channels.Config{
		MinVideosAnalyzed:       deps.Config.Channels.MinVideosAnalyzed,
		MinQualityScore:         deps.Config.Channels.MinQualityScore,
		MaxVideosPerChannel:     deps.Config.Channels.MaxVideosPerChannel,
		ProcessedSetPath:        deps.Config.Channels.ProcessedSetPath,
		SkipProcessedAcrossRuns: deps.Config.Channels.SkipProcessedAcrossRuns,
	}, deps.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create channel miner: %w", err)
	}
	return miner, store, nil
}

// NewPipeline wires the full crawl pipeline from configuration.
func NewPipeline(deps *CommandDeps, phases []string) (*pipeline.Pipeline, error) {
	store := NewManifestStore(deps)
	urlFile := manifest.NewURLFile(deps.Config.Storage.URLFilePath)

	engine, err := NewDiscoveryEngine(deps, store, urlFile)
	if err != nil {
		return nil, err
	}

	collaborator, err := NewCollaborator(deps)
	if err != nil {
		return nil, err
	}

	miner, chanStore, err := NewChannelMining(deps, engine)
	if err != nil {
		return nil, err
	}

	if len(phases) == 0 {
		phases = deps.Config.Pipeline.Phases
	}

	return pipeline.New(pipeline.Config{
		Phases:              phases,
		Queries:             deps.Config.Discovery.Queries,
		AudioDir:            deps.Config.Storage.AudioDir,
		RejectDir:           deps.Config.Storage.RejectDir,
		DownloadConcurrency: deps.Config.Pipeline.DownloadConcurrency,
		LockPath:            deps.Config.Storage.ManifestPath + ".lock",
		Retry:               retry.Config{MaxAttempts: deps.Config.Pipeline.MaxRetries},
		ChannelMining:       deps.Config.Channels.Enabled,
	}, store, urlFile, engine, collaborator, miner, chanStore, deps.Logger)
}

// disabledUploader rejects uploads when no uploader endpoint is configured.
type disabledUploader struct{}

func (disabledUploader) Upload(context.Context, string, string) error {
	return errors.New("uploader endpoint is not configured")
}
