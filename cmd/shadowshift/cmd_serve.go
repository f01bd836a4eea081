package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/api"
	"github.com/user/shadowshift/internal/classifier"
	"github.com/user/shadowshift/internal/config"
	"github.com/user/shadowshift/internal/delivery"
	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/scheduler"
	"github.com/user/shadowshift/internal/state"
	"github.com/user/shadowshift/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shadowshift daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func newOrchestrator(cfg *config.Config, drafter poller.Drafter, logger *zap.Logger, opts ...poller.Option) (*poller.Orchestrator, error) {
	srcs, err := newSources(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(srcs) == 0 {
		logger.Warn("no sources enabled, polls will find nothing")
	}
	pc := poller.Config{
		Window:           cfg.Poll.Window,
		DraftConcurrency: cfg.Poll.DraftConcurrency,
		MaxWords:         cfg.Poll.MaxWords,
		Threshold:        cfg.Classifier.Threshold,
	}
	opts = append([]poller.Option{
		poller.WithNormalizer(normalize.New(cfg.SelfAliases)),
		poller.WithLogger(logger),
	}, opts...)
	return poller.New(srcs, drafter, pc, opts...), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pid := pidFile(cfg.PIDPath())
	if proc, err := pid.live(); err == nil {
		return fmt.Errorf("shadowshift already running (PID %d)", proc.Pid)
	}
	if err := pid.write(); err != nil {
		return err
	}
	defer pid.remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drafter, err := newDrafter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create drafter: %w", err)
	}

	// Dataset and model
	ds, err := openDataset(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer ds.Close()

	models := classifier.NewHolder(logger)
	m, err := ensureModel(ctx, cfg, ds, logger)
	if err != nil {
		return fmt.Errorf("prepare model: %w", err)
	}
	if m != nil {
		models.Set(m)
	} else {
		logger.Warn("no training data, predictions disabled until a model is trained")
	}
	go func() {
		if err := models.Watch(ctx, cfg.ModelPath()); err != nil {
			logger.Error("model watcher stopped", zap.Error(err))
		}
	}()

	// Suggestions and delivery
	store := state.NewSuggestionStore(cfg.DataDir)
	deliveryReg := delivery.NewRegistry()
	deliveryReg.Register("store", "", store.Deliver)

	orch, err := newOrchestrator(cfg, drafter, logger,
		poller.WithPredictor(models),
		poller.WithSink(deliveryReg))
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}

	logger.Info("shadowshift started",
		zap.String("data_dir", cfg.DataDir),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("offline", drafter.Offline()),
		zap.Int("sources", len(orch.Sources())),
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.String("pid_file", string(pid)),
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		var chatID int64
		if cfg.Telegram.ChatID != "" {
			if chatID, err = telegram.ParseChatID(cfg.Telegram.ChatID); err != nil {
				return err
			}
		}
		adapter, err := telegram.New(cfg.Telegram.Token, chatID, orch, store, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		if chatID != 0 {
			deliveryReg.Register("telegram", "", adapter.Notify)
		}
		logger.Info("telegram adapter started", zap.Int64("chat_id", chatID))
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	// Scheduler
	sched := scheduler.New(orch, cfg.PollInterval(), logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	logger.Info("scheduler started", zap.String("schedule", sched.Spec()))

	// HTTP API
	if cfg.HTTP.Enabled {
		apiSrv := api.NewServer(api.Config{
			Models:     models,
			Drafter:    drafter,
			Poller:     orch,
			Store:      store,
			Normalizer: normalize.New(cfg.SelfAliases),
			ModelPath:  cfg.ModelPath(),
			Window:     cfg.Poll.Window,
			Logger:     logger,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           apiSrv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("api server started", zap.String("listen", cfg.HTTP.Listen))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api server error", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				logger.Error("failed to get executable path", zap.Error(err))
				continue
			}
			pid.remove()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				logger.Error("failed to re-exec", zap.Error(err))
				if writeErr := pid.write(); writeErr != nil {
					logger.Error("failed to re-write PID file", zap.Error(writeErr))
				}
				continue
			}
		}
		logger.Info("shutting down", zap.Stringer("signal", sig))
		return nil
	}
}
