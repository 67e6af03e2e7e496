package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"docverse/internal/bus"
	"docverse/internal/channel"
	"docverse/internal/config"
	"docverse/internal/dedup"
	"docverse/internal/docstore"
	"docverse/internal/domain"
	"docverse/internal/ingest"
	"docverse/internal/platform"
	"docverse/internal/processing"
	"docverse/internal/replies"
	"docverse/internal/retry"
	"docverse/internal/sender"
	"docverse/internal/storage"
	"docverse/internal/tracker"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "docverse",
		Short: "Docverse: exactly-once document ingestion for chat platforms",
		Long:  "Docverse receives documents and commands over an at-least-once webhook and processes each delivered event exactly once.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.docverse/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{config.ExpandPath(cfg.General.DataDir), config.ExpandPath(cfg.Storage.Root)} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("next: fill in platform credentials, then run 'docverse serve'")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and ingestion workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := dedup.New(filepath.Join(cfg.General.DataDir, "dedup.db"), logger)
	if err != nil {
		return fmt.Errorf("dedup ledger: %w", err)
	}
	defer ledger.Close()

	trk, err := tracker.New(filepath.Join(cfg.General.DataDir, "jobs.db"),
		time.Duration(cfg.Jobs.LeaseMinutes)*time.Minute, logger)
	if err != nil {
		return fmt.Errorf("job tracker: %w", err)
	}
	defer trk.Close()

	docs, err := docstore.New(filepath.Join(cfg.General.DataDir, "documents.db"), logger)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	defer docs.Close()

	files, err := storage.NewFileStore(cfg.Storage.Root, logger)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	plat, err := buildPlatform(cfg)
	if err != nil {
		return err
	}

	catalog := replies.Load(cfg.Replies.Path, logger)
	pol := retry.Default(logger)
	snd := sender.New(plat, ledger, sender.Config{
		ReplyTTL: time.Duration(cfg.Dedup.ReplyTTLMinutes) * time.Minute,
		Retry:    pol,
		Logger:   logger,
	})

	docProc := ingest.NewDocumentProcessor(ingest.DocumentConfig{
		Tracker:    trk,
		Docs:       docs,
		Platform:   plat,
		Storage:    files,
		Processing: processing.NewTextExtractor(logger),
		Sender:     snd,
		Replies:    catalog,
		Retry:      pol,
		Logger:     logger,
	})
	cmds := ingest.NewCommands(ingest.CommandsConfig{
		Docs:    docs,
		Storage: files,
		Sender:  snd,
		Replies: catalog,
		Logger:  logger,
	})
	router := ingest.NewRouter(ingest.RouterConfig{
		Ledger:     ledger,
		Commands:   cmds,
		Documents:  docProc,
		InboundTTL: time.Duration(cfg.Dedup.InboundTTLMinutes) * time.Minute,
		Logger:     logger,
	})

	messageBus := bus.New(cfg.General.BusSize, logger)

	var workers sync.WaitGroup
	for i := 0; i < cfg.General.Workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			for msg := range messageBus.Subscribe() {
				res := router.HandleInbound(ctx, msg)
				logger.Debug("event handled",
					"worker", id, "key", msg.DedupKey(), "outcome", res.Outcome, "reason", res.Reason)
			}
		}(i)
	}

	go runSweeps(ctx, cfg, ledger, trk, docs)

	webhook := channel.NewWebhook(channel.WebhookConfig{
		Port:        cfg.Webhook.Port,
		Path:        cfg.Webhook.Path,
		VerifyToken: cfg.Platform.WhatsApp.VerifyToken,
		AppSecret:   cfg.Platform.WhatsApp.AppSecret,
		Logger:      logger,
	}, messageBus)

	logger.Info("docverse started", "version", version, "workers", cfg.General.Workers, "platform", cfg.Platform.Kind)
	err = webhook.Start(ctx)

	// Drain: no new events, let workers finish what they hold.
	messageBus.Close()
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}
	return err
}

func buildPlatform(cfg *config.Config) (domain.Platform, error) {
	switch cfg.Platform.Kind {
	case "whatsapp":
		return platform.NewWhatsApp(platform.WhatsAppConfig{
			PhoneNumberID: cfg.Platform.WhatsApp.PhoneNumberID,
			Logger:        logger,
		}, platform.StaticCredentials{Token: cfg.Platform.WhatsApp.AccessToken}), nil
	case "telegram":
		return platform.NewTelegram(platform.TelegramConfig{
			Token:  cfg.Platform.Telegram.Token,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown platform kind %q", cfg.Platform.Kind)
	}
}

// runSweeps evicts expired claims, stale selection contexts and old
// terminal job records on a timer.
func runSweeps(ctx context.Context, cfg *config.Config, ledger *dedup.Ledger, trk *tracker.Store, docs *docstore.Store) {
	interval := time.Duration(cfg.Dedup.SweepMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retention := time.Duration(cfg.Jobs.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ledger.Sweep(ctx); err != nil {
				logger.Warn("ledger sweep failed", "err", err)
			}
			if _, err := trk.SweepTerminal(ctx, retention); err != nil {
				logger.Warn("tracker sweep failed", "err", err)
			}
			if _, err := docs.SweepSelections(ctx); err != nil {
				logger.Warn("selection sweep failed", "err", err)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and data store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true, "platform", cfg.Platform.Kind)
			for _, db := range []string{"dedup.db", "jobs.db", "documents.db"} {
				path := filepath.Join(cfg.General.DataDir, db)
				if info, err := os.Stat(path); err == nil {
					logger.Info("database", "file", db, "bytes", info.Size())
				} else {
					logger.Info("database", "file", db, "exists", false)
				}
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			redacted := *cfg
			if redacted.Platform.WhatsApp.AccessToken != "" {
				redacted.Platform.WhatsApp.AccessToken = "***"
			}
			if redacted.Platform.WhatsApp.AppSecret != "" {
				redacted.Platform.WhatsApp.AppSecret = "***"
			}
			if redacted.Platform.Telegram.Token != "" {
				redacted.Platform.Telegram.Token = "***"
			}
			data, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
