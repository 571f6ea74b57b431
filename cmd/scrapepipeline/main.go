// Package main wires together the scraping pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/api"
	"github.com/assetblue/scraping-pipeline/internal/clock/system"
	"github.com/assetblue/scraping-pipeline/internal/config"
	"github.com/assetblue/scraping-pipeline/internal/id/uuid"
	"github.com/assetblue/scraping-pipeline/internal/logging"
	"github.com/assetblue/scraping-pipeline/internal/metrics"
	"github.com/assetblue/scraping-pipeline/internal/orchestrator"
	"github.com/assetblue/scraping-pipeline/internal/planner"
	memorypublisher "github.com/assetblue/scraping-pipeline/internal/publisher/memory"
	pubsubpublisher "github.com/assetblue/scraping-pipeline/internal/publisher/pubsub"
	"github.com/assetblue/scraping-pipeline/internal/registry"
	"github.com/assetblue/scraping-pipeline/internal/runner"
	"github.com/assetblue/scraping-pipeline/internal/scrape"
	"github.com/assetblue/scraping-pipeline/internal/source"
	"github.com/assetblue/scraping-pipeline/internal/source/document"
	"github.com/assetblue/scraping-pipeline/internal/source/headless"
	"github.com/assetblue/scraping-pipeline/internal/source/image"
	"github.com/assetblue/scraping-pipeline/internal/source/video"
	gcsstorage "github.com/assetblue/scraping-pipeline/internal/storage/gcs"
	memorystore "github.com/assetblue/scraping-pipeline/internal/store/memory"
	postgresstore "github.com/assetblue/scraping-pipeline/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	items, err := buildItemStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("item store init failed", zap.Error(err))
	}
	defer items.Close()

	var objects scrape.ObjectStore
	if cfg.Storage.Enabled {
		store, err := gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:         cfg.Storage.GCSBucket,
			PublicBaseURL:  cfg.Storage.PublicBaseURL,
			MaxObjectBytes: cfg.MaxDownloadBytes(),
			RequestTimeout: cfg.SourceTimeout(),
		}, logger.Named("gcs"))
		if err != nil {
			logger.Fatal("object store init failed", zap.Error(err))
		}
		defer store.Close()
		objects = store
	}

	var publisher scrape.Publisher
	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer pub.Close()
		publisher = pub
	} else {
		publisher = memorypublisher.New()
	}

	var renderer *headless.Renderer
	if cfg.Headless.Enabled {
		renderer, err = headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Sources.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
			renderer = nil
		} else {
			defer renderer.Close()
		}
	}

	reg := registry.New()
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	orch := orchestrator.New(orchestrator.Options{
		Registry:  reg,
		Items:     items,
		Objects:   objects,
		Sources:   sourceFactory(cfg, renderer, logger),
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		Clock:     clock,
		Caps: orchestrator.Caps{
			PerKeyword: cfg.Scraper.MaxResultsPerKeyword,
			Documents:  cfg.Scraper.MaxDocumentResults,
			Overfetch:  cfg.Scraper.OverfetchFactor,
		},
		Logger: logger.Named("orchestrator"),
	})

	run := runner.New(cfg.Scraper.QueueDepth, reg, orch, logger.Named("runner"))
	run.Start(ctx)

	apiServer := api.NewServer(api.Options{
		Registry: reg,
		Runner:   run,
		Planner:  planner.New(items, logger.Named("planner")),
		Items:    items,
		Objects:  objects,
		IDGen:    idGen,
		Clock:    clock,
		Config:   cfg,
		Logger:   logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	run.Stop()
}

func buildItemStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.ItemStore, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory item store")
		return memorystore.NewItemStore(), nil
	}
	store, err := postgresstore.NewItemStore(ctx, postgresstore.ItemStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// sourceFactory builds a fresh adapter set for each run so every run opens
// and closes its own source connections.
func sourceFactory(cfg config.Config, renderer *headless.Renderer, logger *zap.Logger) source.Factory {
	return func() (*source.Set, error) {
		set := source.NewSet()

		set.Register(scrape.ContentTypeVideo, video.New(video.Config{
			Binary:          cfg.Sources.YtdlpBinary,
			SearchTimeout:   time.Duration(cfg.Sources.YtdlpTimeoutSec) * time.Second,
			DownloadTimeout: time.Duration(cfg.Sources.DownloadTimeoutSec) * time.Second,
			MaxFileBytes:    cfg.MaxDownloadBytes(),
		}, logger.Named("video")))

		img := image.New(image.Config{
			BaseURL:   cfg.Sources.BingBaseURL,
			UserAgent: cfg.Sources.UserAgent,
			Timeout:   cfg.SourceTimeout(),
			PageDelay: time.Duration(cfg.Sources.PageDelayMs) * time.Millisecond,
		}, logger.Named("image"))
		if renderer != nil {
			img = img.WithRenderer(renderer)
		}
		set.Register(scrape.ContentTypeImage, img)

		set.Register(scrape.ContentTypeDocument, document.New(document.Config{
			APIKey:  cfg.Sources.ExaAPIKey,
			Timeout: cfg.SourceTimeout(),
		}, logger.Named("document")))

		return set, nil
	}
}
