package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"instasave/internal/downloader"
	"instasave/pkg/auth"
	"instasave/pkg/config"
	"instasave/pkg/database"
	"instasave/pkg/instagram"
	"instasave/pkg/job"
	"instasave/pkg/logger"
	"instasave/pkg/metrics"
	"instasave/pkg/scraper"
	"instasave/pkg/status"
	"instasave/pkg/storage"
)

// app holds the long lived components shared by the commands
type app struct {
	cfg        *config.Config
	log        logger.Logger
	db         *database.Store
	media      *storage.Manager
	deadLetter *storage.DeadLetter
	status     *status.Store
	cascade    *auth.Cascade
	registry   *prometheus.Registry
	controller *job.Controller
}

// newApp opens the stores and wires the job controller. ctx bounds every
// job the controller starts.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetLogger()

	db, err := database.Open(ctx, cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	media, err := storage.NewManager(cfg.Storage.MediaRoot)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare media root: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(registry)

	a := &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		media:      media,
		deadLetter: storage.NewDeadLetter(cfg.Storage.DeadLetterPath, log.WithField("component", "dead_letter")),
		status:     status.NewStore(cfg.Storage.StatusPath, log),
		registry:   registry,
	}
	a.cascade = auth.NewCascade(cfg, auth.NewKeyringStore(), func() auth.Session {
		return instagram.NewClientFromConfig(cfg, log)
	}, log)

	opts := downloader.OptionsFromConfig(cfg)
	opts.Logger = log
	opts.Metrics = rec

	runner := scraper.NewRunner(scraper.Deps{
		Auth: a.cascade,
		NewFetcher: func(f downloader.Fetcher) scraper.ItemFetcher {
			return downloader.NewPipeline(f, media, opts)
		},
		Posts:      db,
		Status:     a.status,
		DeadLetter: a.deadLetter,
		Metrics:    rec,
		Logger:     log,
		PageSize:   cfg.Scrape.PageSize,
	})

	a.controller = job.NewController(job.Deps{
		Run:        runner.Run,
		Status:     a.status,
		DeadLetter: a.deadLetter,
		MarkerPath: cfg.Storage.MarkerPath,
		Metrics:    rec,
		Logger:     log,
		Context:    ctx,
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close database")
	}
}
