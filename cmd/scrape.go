package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coachscout/jobs-crawler/internal/api"
	"github.com/coachscout/jobs-crawler/internal/archive/gcs"
	"github.com/coachscout/jobs-crawler/internal/archive/local"
	"github.com/coachscout/jobs-crawler/internal/batch"
	"github.com/coachscout/jobs-crawler/internal/capture/headless"
	"github.com/coachscout/jobs-crawler/internal/clock/system"
	"github.com/coachscout/jobs-crawler/internal/config"
	"github.com/coachscout/jobs-crawler/internal/discover"
	"github.com/coachscout/jobs-crawler/internal/district"
	iduuid "github.com/coachscout/jobs-crawler/internal/id/uuid"
	"github.com/coachscout/jobs-crawler/internal/logging"
	"github.com/coachscout/jobs-crawler/internal/ocr/azure"
	"github.com/coachscout/jobs-crawler/internal/ocr/tesseract"
	"github.com/coachscout/jobs-crawler/internal/publisher/pubsub"
	storememory "github.com/coachscout/jobs-crawler/internal/store/memory"
	"github.com/coachscout/jobs-crawler/internal/store/postgres"
	"github.com/coachscout/jobs-crawler/internal/vision"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Run one batch over the district roster",
		Long: `Loads the district roster, captures each career page, routes the
screenshots through the configured extraction tiers, and records the run
summary. The operator HTTP endpoints stay up for the duration of the run
so Prometheus can scrape it.`,
		RunE: runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	districts, err := district.LoadCSV(cfg.Roster.Path, cfg.Roster.State)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	routerCfg, err := cfg.VisionRouterConfig()
	if err != nil {
		return err
	}
	extractors, err := buildExtractors(cfg)
	if err != nil {
		return err
	}
	router, err := vision.NewRouter(store, extractors, routerCfg, system.New(), logger)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	capturer, err := headless.New(headless.Config{
		Width:             int64(cfg.Capture.Width),
		Height:            int64(cfg.Capture.Height),
		UserAgent:         cfg.Capture.UserAgent,
		NavigationTimeout: cfg.Capture.NavTimeout(),
		MaxParallel:       cfg.Capture.MaxParallel,
	})
	if err != nil {
		return fmt.Errorf("init capturer: %w", err)
	}
	defer capturer.Close()

	blobStore, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	var finder batch.URLFinder
	if cfg.Discovery.Enabled {
		finder = discover.New(discover.Config{
			UserAgent: cfg.Capture.UserAgent,
			Timeout:   time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second,
			MaxURLs:   cfg.Discovery.MaxURLs,
		})
	}

	runner, err := batch.New(
		router, store, capturer, nil, publisher, blobStore, finder,
		iduuid.New(), system.New(),
		batch.Config{
			Workers:    cfg.Batch.Workers,
			Topic:      cfg.Batch.Topic,
			BlobPrefix: cfg.Archive.Prefix,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}

	srv := startOperatorServer(cfg, store, logger)
	defer shutdownOperatorServer(srv, logger)

	summary, err := runner.Run(ctx, districts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run batch: %w", err)
	}
	logger.Info("scrape complete",
		zap.String("run_id", summary.RunID),
		zap.Int("skipped_nochange", summary.Skipped),
		zap.Int("cheap_ocr", summary.CheapOCR),
		zap.Int("escalated", summary.Escalated),
	)
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (vision.FingerprintStore, func(), error) {
	if cfg.DB.DSN == "" {
		return storememory.NewFingerprintStore(system.New()), func() {}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	}, system.New())
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, pg.Close, nil
}

func buildExtractors(cfg config.Config) ([]vision.Extractor, error) {
	var extractors []vision.Extractor
	if cfg.LocalOCR.Enabled {
		extractors = append(extractors, tesseract.New(tesseract.Config{
			Languages: splitLanguages(cfg.LocalOCR.Languages),
		}))
	}
	if cfg.CloudOCR.Enabled {
		cloud, err := azure.New(azure.Config{
			Endpoint: cfg.CloudOCR.Endpoint,
			Key:      cfg.CloudOCR.Key,
			Language: cfg.CloudOCR.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("init cloud ocr: %w", err)
		}
		extractors = append(extractors, cloud)
	}
	return extractors, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (batch.BlobStore, func(), error) {
	switch cfg.Archive.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, func() {}, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (batch.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubsub.New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func() {
		pub.Stop()
		_ = client.Close()
	}
	return pub, closer, nil
}

func startOperatorServer(cfg config.Config, store vision.FingerprintStore, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(store, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("operator server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownOperatorServer(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("operator server shutdown failed", zap.Error(err))
	}
}

func splitLanguages(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '+' || r == ','
	})
	return parts
}
