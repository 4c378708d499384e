// Package common provides shared dependency construction for the kidcrawl
// subcommands.
package common

import (
	"fmt"

	"github.com/vietspeech/kidcrawl/internal/config"
	"github.com/vietspeech/kidcrawl/internal/logger"
)

// CommandDeps bundles the dependencies every subcommand starts from.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Interface
}

// NewCommandDeps loads the validated configuration and builds the logger.
func NewCommandDeps() (*CommandDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &CommandDeps{Config: cfg, Logger: log}, nil
}
