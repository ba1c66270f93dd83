package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/star/orbitsync/internal/tle"
)

var errNoSource = errors.New("no element set source: pass --tle or set tle.source")

// datasetLoader fetches element sets through the configured sources and
// cache and records each load in its store.
type datasetLoader struct {
	fetcher *tle.Fetcher
	cache   *tle.Cache
	store   *tle.Store
	logger  *slog.Logger
}

func newDatasetLoader(cfg TLEConfig, logger *slog.Logger) (*datasetLoader, error) {
	if cfg.Source == "" {
		return nil, errNoSource
	}
	l := &datasetLoader{
		fetcher: tle.NewFetcher(cfg.Source, logger, cfg.ExtraSources...),
		store:   tle.NewStore(),
		logger:  logger,
	}
	if cfg.CacheDir != "" {
		l.cache = tle.NewCache(cfg.CacheDir, cfg.MaxFiles)
	}
	return l, nil
}

// Load fetches a dataset and stamps it with the next generation.
func (l *datasetLoader) Load(ctx context.Context) (*tle.Dataset, error) {
	ds, err := tle.Load(ctx, l.fetcher, l.cache, l.logger)
	if err != nil {
		return nil, fmt.Errorf("loading element sets: %w", err)
	}
	l.store.Set(ds)
	return ds, nil
}

func loadDatasetOnce(ctx context.Context, v *viper.Viper, logger *slog.Logger) (*tle.Dataset, error) {
	l, err := newDatasetLoader(loadTLEConfig(v, logger), logger)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx)
}
