package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "schedmate/app/configs"
	"schedmate/app/core/calendar"
	"schedmate/app/core/conversation"
	"schedmate/app/core/eventstore"
	"schedmate/app/core/extraction"
	"schedmate/app/core/interaction/cli"
	"schedmate/app/core/interaction/gateway"
	"schedmate/app/core/interaction/http"
	"schedmate/app/core/interaction/telegram"
	"schedmate/app/core/queue"
	"schedmate/app/core/scheduler"
	"schedmate/app/pkg/logger"
	"schedmate/app/pkg/retry"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("SchedMate starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	store, err := eventstore.Open("output/db")
	if err != nil {
		logger.Error("Failed to open event store: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Event store ready")

	backend, err := buildBackend(cfg.Calendar)
	if err != nil {
		logger.Error("Failed to configure calendar backend: %v", err)
		os.Exit(1)
	}
	submitter := calendar.NewSubmitter(backend, retry.Policy{
		MaxAttempts: cfg.Calendar.MaxAttempts,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2.0,
	}, time.Duration(cfg.Calendar.TimeoutSec)*time.Second)

	extractor, err := buildExtractor(cfg.Extraction)
	if err != nil {
		logger.Error("Failed to configure extraction: %v", err)
		os.Exit(1)
	}

	assistant := conversation.NewManager(cfg.Assistant.Name, extractor, submitter, store, cfg.Session)

	gw := gateway.NewGateway(assistant)

	executionQueue := queue.New(64)
	gw.SetExecutionQueue(executionQueue, gateway.QueueOptions{
		Enabled:        true,
		EnqueueTimeout: 2 * time.Second,
		AttemptTimeout: 60 * time.Second,
	})

	cliChannel := cli.NewCLIChannel(cfg.Assistant.CLIUserID)
	gw.RegisterChannel(cliChannel)

	httpChannel := http.NewHTTPChannel(cfg.Channels.HTTPPort)
	httpChannel.SetHealthProvider(func() map[string]interface{} {
		status := gw.HealthStatus()
		return map[string]interface{}{
			"agent":              status.AgentName,
			"channels":           status.RegisteredChannels,
			"processed_messages": status.ProcessedMessages,
			"queue_depth":        status.Queue.Depth,
			"queue_completed":    status.Queue.Completed,
		}
	})
	gw.RegisterChannel(httpChannel)

	if cfg.Channels.TelegramEnabled {
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		if token == "" {
			logger.Error("Telegram enabled but TELEGRAM_BOT_TOKEN is not set")
			os.Exit(1)
		}
		gw.RegisterChannel(telegram.NewChannel(telegram.Config{BotToken: token}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := executionQueue.Start(ctx, 2); err != nil {
		logger.Error("Failed to start execution queue: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := executionQueue.Stop(3 * time.Second); err != nil {
			logger.Error("Queue shutdown timeout: %v", err)
		}
	}()

	jobScheduler := scheduler.New()
	sweepInterval := time.Duration(cfg.Session.SweepIntervalSec) * time.Second
	if err := jobScheduler.Register(scheduler.JobSpec{
		Name:     "session-sweep",
		Interval: sweepInterval,
		Run: func(context.Context) error {
			assistant.SweepSessions()
			return nil
		},
	}); err != nil {
		logger.Error("Failed to register session sweep: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	go func() {
		if err := gw.Start(ctx); err != nil {
			logger.Error("Gateway crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("SchedMate is ready to serve.")
	fmt.Println("- CLI Interface:  Interactive")
	fmt.Printf("- HTTP Interface: http://localhost:%d/api/message (POST)\n", cfg.Channels.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. SchedMate shutting down...", sig)
	cancel()
}

func buildBackend(cfg config.CalendarConfig) (calendar.Backend, error) {
	switch cfg.Backend {
	case "http":
		return calendar.NewHTTPBackend(calendar.HTTPConfig{
			BaseURL:  cfg.BaseURL,
			APIToken: os.Getenv("CALENDAR_API_TOKEN"),
			Timeout:  time.Duration(cfg.TimeoutSec) * time.Second,
		})
	default:
		return calendar.NewLocalBackend(), nil
	}
}

func buildExtractor(cfg config.ExtractionConfig) (conversation.Extractor, error) {
	client, err := extraction.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.Model)
	if err != nil {
		return nil, err
	}
	return extraction.NewAdapter(client, retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		Factor:      cfg.BackoffFactor,
	}, time.Duration(cfg.TimeoutSec)*time.Second)
}
