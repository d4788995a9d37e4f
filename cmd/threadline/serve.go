package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jxucoder/threadline/internal/assistant"
	"github.com/jxucoder/threadline/internal/config"
	"github.com/jxucoder/threadline/internal/logging"
	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/server"
	"github.com/jxucoder/threadline/internal/session"
	threadlineslack "github.com/jxucoder/threadline/internal/slack"
	threadlinetelegram "github.com/jxucoder/threadline/internal/telegram"
	"github.com/jxucoder/threadline/internal/tools"
)

// nominalBudget is the turn length the deployment was originally sized for.
const nominalBudget = 120 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the threadline server",
	Long:  "Start the threadline API server and, when configured, the Slack and Telegram bots.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	// Without credentials the server still starts; chat requests then fail
	// with a configuration error instead of polling.
	var svc assistant.Service
	if err := cfg.Validate(); err != nil {
		logger.Warn("assistant disabled", "reason", err)
	} else {
		svc = newAssistantService(cfg)
	}

	if budget := cfg.PollBudget(); budget != nominalBudget {
		logger.Warn("poll budget differs from the nominal turn length",
			"budget", budget, "interval", cfg.PollInterval, "max_polls", cfg.MaxPolls, "nominal", nominalBudget)
	}

	stack, err := buildSearch(cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	if cfg.TavilyAPIKey == "" {
		logger.Warn("TAVILY_API_KEY not set; web_search calls will report a missing key")
	}

	orch := orchestrator.New(svc,
		tools.NewDispatcher(stack.registry, cfg.ToolConcurrency, logger),
		orchestrator.Config{
			AssistantID:  cfg.AssistantID,
			PollInterval: cfg.PollInterval,
			MaxPolls:     cfg.MaxPolls,
		},
		orchestrator.WithLogger(logger),
	)

	store, err := session.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer store.Close()
	relay := session.NewRelay(store, orch, logger)

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.SlackEnabled() {
		opts = append(opts, server.WithBot("slack",
			threadlineslack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, relay, logger)))
	}
	if cfg.TelegramEnabled() {
		bot, err := threadlinetelegram.NewBot(cfg.TelegramBotToken, relay, logger)
		if err != nil {
			logger.Warn("failed to initialize Telegram bot", "error", err)
		} else {
			opts = append(opts, server.WithBot("telegram", bot))
		}
	}

	srv := server.New(cfg, orch, stack.client, opts...)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
