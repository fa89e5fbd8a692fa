package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coachscout/jobs-crawler/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator HTTP API without running a batch",
		Long: `Starts the health, metrics and fingerprint lookup endpoints against
the configured store. Useful for inspecting what past runs recorded.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
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

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := startOperatorServer(cfg, store, logger)
	logger.Info("operator server listening", zap.Int("port", cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownOperatorServer(srv, logger)
	return nil
}
