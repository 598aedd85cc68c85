package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/episode-harvester/internal/services/extractor"
	"github.com/killallgit/episode-harvester/internal/services/fetcher"
	"github.com/killallgit/episode-harvester/internal/services/itunes"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/internal/services/pipeline"
	"github.com/killallgit/episode-harvester/internal/services/resolver"
	"github.com/killallgit/episode-harvester/pkg/config"
	"github.com/killallgit/episode-harvester/pkg/download"
)

// errEntriesFailed makes the process exit non-zero when failures remain
var errEntriesFailed = errors.New("entries remain failed")

// bindFlags lets flags override configuration keys. Binding happens when the
// command runs because run and retry share the pipeline.max_passes key.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if err := config.Init(); err != nil {
		return nil, err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ledgerOptions(cfg *config.Config, readOnly bool) ledger.Options {
	return ledger.Options{
		Backend:  cfg.Ledger.Backend,
		Path:     cfg.Ledger.Path,
		Verbose:  cfg.Ledger.Verbose,
		ReadOnly: readOnly,
	}
}

// newDriver assembles the resolve and download stack from configuration.
// The returned stop func releases the search cache.
func newDriver(cfg *config.Config, svc ledger.Service) (*pipeline.Driver, func()) {
	logger := slog.Default()

	pages := fetcher.New(fetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		AcceptLanguage:    cfg.HTTP.AcceptLanguage,
		Origin:            cfg.HTTP.Origin,
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	})

	cache := itunes.NewMemoryCache()
	search := itunes.NewCachedClient(itunes.Config{
		RequestsPerMinute: cfg.Search.RequestsPerMinute,
		BurstSize:         cfg.Search.BurstSize,
		Timeout:           cfg.Search.Timeout,
		MaxRetries:        cfg.Search.MaxRetries,
		Entity:            cfg.Search.Entity,
		Limit:             cfg.Search.Limit,
		UserAgents:        []string{cfg.HTTP.UserAgent},
		BaseURL:           cfg.Search.BaseURL,
	}, cache, cfg.Search.CacheTTL)

	ex := extractor.New()
	res := resolver.New(pages, search, ex, resolver.Config{
		SearchCandidates: cfg.Pipeline.SearchCandidates,
		Logger:           logger,
	})

	dl := download.NewDownloader(download.Options{
		ChunkSize:     cfg.Download.ChunkSize,
		MaxSize:       cfg.Download.MaxSize,
		Timeout:       cfg.Download.Timeout,
		UserAgent:     cfg.HTTP.UserAgent,
		ValidateAudio: cfg.Download.ValidateAudio,
		Logger:        logger,
	})

	driver := pipeline.NewDriver(pipeline.Config{
		OutputDir:     cfg.Pipeline.OutputDir,
		SourceTag:     cfg.Pipeline.SourceTag,
		Workers:       cfg.Pipeline.Workers,
		MaxAttempts:   cfg.Pipeline.MaxAttempts,
		RetryAttempts: cfg.Pipeline.RetryAttempts,
		PassDelay:     cfg.Pipeline.PassDelay,
		TempMaxAge:    cfg.Download.TempMaxAge,
		ShowProgress:  shouldColorize(os.Stderr),
	}, svc, res, dl, pages, pipeline.WithLogger(logger), pipeline.WithExtractor(ex))

	return driver, cache.Stop
}

func failedError(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d %w", n, errEntriesFailed)
}
