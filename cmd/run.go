package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-crawler/internal/api"
	"github.com/JakeFAU/disclosure-crawler/internal/config"
	"github.com/JakeFAU/disclosure-crawler/internal/crawl"
	"github.com/JakeFAU/disclosure-crawler/internal/ledger"
	"github.com/JakeFAU/disclosure-crawler/internal/logging"
	"github.com/JakeFAU/disclosure-crawler/internal/metrics"
	"github.com/JakeFAU/disclosure-crawler/internal/portal"
	"github.com/JakeFAU/disclosure-crawler/internal/progress"
)

// runEngine builds the full dependency chain and executes one crawl run.
// Shared by the crawl and download subcommands.
func runEngine(cmd *cobra.Command, mode crawl.Mode, needRequester bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if needRequester {
		if err := cfg.ValidateRequester(); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	if !yes && !confirmRun(cmd, cfg) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	led, err := ledger.Open(ctx, store, logger, cfg.Crawl.FreshStart)
	if err != nil {
		return fmt.Errorf("open ledgers: %w", err)
	}

	tally := progress.New(cfg.Crawl.ProgressFile, logger)
	logger.Info("run starting",
		zap.String("run", tally.RunID()),
		zap.Int("start_page", cfg.Crawl.StartPage),
		zap.Int("end_page", cfg.Crawl.EndPage),
	)

	if cfg.Status.Enabled {
		srv := api.NewServer(tally, logger)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Status.Port)
			if err := srv.Serve(ctx, addr); err != nil {
				logger.Warn("status server stopped", zap.Error(err))
			}
		}()
	}

	session, err := portal.NewChromeSession(ctx, portal.ChromeSessionConfig{
		BaseURL:    cfg.Portal.BaseURL,
		Headless:   cfg.Portal.Headless,
		NavTimeout: cfg.NavTimeout(),
		OpDelay:    cfg.OpDelay(),
		Requester: portal.Requester{
			Name:       cfg.Portal.UserName,
			Email:      cfg.Portal.UserEmail,
			Occupation: cfg.Portal.UserOccupation,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("open portal session: %w", err)
	}
	defer func() {
		if cerr := session.Close(context.Background()); cerr != nil {
			logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	resilient := portal.NewResilientSession(session, portal.RetryConfig{
		Attempts: cfg.Retry.Attempts,
		Backoff:  cfg.RetryBackoff(),
	}, logger, tally)

	controller := crawl.NewController(resilient, led, crawl.Config{
		StartPage:   cfg.Crawl.StartPage,
		EndPage:     cfg.Crawl.EndPage,
		BatchSize:   cfg.Crawl.BatchSize,
		DownloadDir: cfg.Crawl.DownloadDir,
		Mode:        mode,
	}, tally, logger)

	summary, err := controller.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("run finished",
		zap.Int("rows_processed", summary.RowsProcessed),
		zap.Int("documents_requested", summary.DocumentsRequested),
		zap.Int("files_downloaded", summary.FilesDownloaded),
	)
	return nil
}

// buildStore constructs the configured ledger backend.
func buildStore(ctx context.Context, cfg config.Config) (ledger.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case "postgres":
		store, err := ledger.NewPostgresStore(ctx, ledger.PostgresStoreConfig{
			DSN:   cfg.Ledger.DSN,
			Table: cfg.Ledger.Table,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger store: %w", err)
		}
		return store, store.Close, nil
	default:
		store, err := ledger.NewFileStore(cfg.Ledger.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file ledger store: %w", err)
		}
		return store, func() {}, nil
	}
}

// confirmRun asks the operator before the first portal interaction.
func confirmRun(cmd *cobra.Command, cfg config.Config) bool {
	fmt.Fprintf(cmd.OutOrStdout(),
		"About to crawl %s, pages %d-%d. Continue? [y/N] ",
		cfg.Portal.BaseURL, cfg.Crawl.StartPage, cfg.Crawl.EndPage,
	)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
