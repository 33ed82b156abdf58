package main

import (
	"context"
	"fmt"

	"image-uploader-go/internal/batch"
	"image-uploader-go/internal/catalog"
	"image-uploader-go/internal/config"
	"image-uploader-go/internal/metrics"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/storage"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/web"

	"github.com/sirupsen/logrus"
)

// app holds the wired pipeline shared by the serve and upload commands.
type app struct {
	log         *logrus.Logger
	presets     *presets.Registry
	store       storage.BlobStore
	catalog     catalog.Store
	library     *catalog.Library
	stats       *statistics.Statistics
	metrics     *metrics.Metrics
	coordinator *batch.Coordinator
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	cat, err := catalog.New(ctx, cfg.Catalog)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	stats := statistics.NewStatistics()
	m := metrics.New("")
	lib := catalog.NewLibrary(cat, store, log, stats)

	coord := batch.NewCoordinator(
		nil,
		transcoder.NewDefaultTranscoder(nil, log),
		store,
		log,
		batch.WithRecorder(lib),
		batch.WithStatistics(stats),
		batch.WithMetrics(m),
	)

	log.WithFields(logrus.Fields{
		"storage": cfg.Storage.Backend,
		"catalog": cfg.Catalog.Driver,
		"presets": len(reg.Names()),
	}).Info("pipeline ready")

	return &app{
		log:         log,
		presets:     reg,
		store:       store,
		catalog:     cat,
		library:     lib,
		stats:       stats,
		metrics:     m,
		coordinator: coord,
	}, nil
}

func (a *app) webDeps() web.Deps {
	return web.Deps{
		Coordinator: a.coordinator,
		Store:       a.store,
		Library:     a.library,
		Presets:     a.presets,
		Stats:       a.stats,
		Metrics:     a.metrics,
	}
}

// Close releases the catalog and the storage backend.
func (a *app) Close(ctx context.Context) {
	if err := a.catalog.Close(ctx); err != nil {
		a.log.Warnf("Failed to close catalog: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warnf("Failed to close storage: %v", err)
	}
}
