package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/config"
	"github.com/sentra-lab/project-sentra/internal/core/storage/postgres"
	"github.com/sentra-lab/project-sentra/internal/dispatch"
	"github.com/sentra-lab/project-sentra/internal/eventlog"
	"github.com/sentra-lab/project-sentra/internal/facts"
	"github.com/sentra-lab/project-sentra/internal/listener"
	"github.com/sentra-lab/project-sentra/internal/migrations"
	"github.com/sentra-lab/project-sentra/internal/notify"
	"github.com/sentra-lab/project-sentra/internal/queue"
	"github.com/sentra-lab/project-sentra/internal/rules"
	"github.com/sentra-lab/project-sentra/internal/server"
	"github.com/sentra-lab/project-sentra/internal/workflow"
)

func main() {
	configPath := flag.String("config", "sentra.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	eventStore, err := postgres.NewEventAdapter(db)
	if err != nil {
		slog.Error("Failed to initialize event store", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	entityStore := postgres.NewEntityAdapter(db)
	jobStore := postgres.NewJobAdapter(db)

	// 3. Load Rules
	rulesRepo, err := rules.NewFileSystemRepository(cfg.Rules.ConfigDir)
	if err != nil {
		slog.Error("Failed to load rules", "dir", cfg.Rules.ConfigDir, "error", err)
		os.Exit(1)
	}
	if cfg.Rules.RequireRules && rulesRepo.RuleCount() == 0 {
		slog.Error("No rules loaded and rules.require_rules is set", "dir", cfg.Rules.ConfigDir)
		os.Exit(1)
	}
	slog.Info("Rules loaded",
		"dir", cfg.Rules.ConfigDir,
		"categories", rulesRepo.Categories(),
		"rules", rulesRepo.RuleCount(),
	)

	// 4. Initialize Fact Providers
	registry := facts.NewRegistry()
	facts.RegisterStandardProviders(registry, entityStore, eventStore, cfg.Rules.EffectiveStatsWindow())
	builder := facts.NewBuilder(registry)
	evaluator := rules.NewEvaluator(rulesRepo)

	// 5. Initialize Workflow Engine and Notification Dispatcher
	engine := workflow.NewEngine(entityStore, nil)

	senders := []notify.Sender{notify.NewInAppSender(jobStore)}
	for channel, endpoint := range map[v1.Channel]string{
		v1.ChannelEmail:    cfg.Notifications.EmailGatewayURL,
		v1.ChannelSMS:      cfg.Notifications.SMSGatewayURL,
		v1.ChannelTelegram: cfg.Notifications.TelegramGatewayURL,
	} {
		if endpoint == "" {
			continue
		}
		senders = append(senders, notify.NewGatewaySender(channel, endpoint))
	}
	notifier := notify.NewDispatcher(entityStore, jobStore, senders...)

	// 6. Initialize Event Log and Listener
	log := eventlog.NewLog(eventStore)
	listenerSvc := listener.NewService(log, builder, evaluator, rulesRepo,
		dispatch.NewDispatcher(engine, notifier))
	listenerSvc.Start()

	// 7. Initialize Delayed Delivery Poller
	poller, err := queue.NewPoller(jobStore, notifier, queue.Config{
		PollInterval: cfg.Queue.EffectivePollInterval(),
		BatchSize:    cfg.Queue.BatchSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBackoff: cfg.Queue.EffectiveRetryBackoff(),
	})
	if err != nil {
		slog.Error("Failed to initialize delivery poller", "error", err)
		os.Exit(1)
	}

	// 8. Initialize Server
	eventlogSvc := eventlog.NewService(log, entityStore, builder, evaluator, rulesRepo, cfg.Server.MaxBodySizeMB)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, cfg.Server.Mode)
	eventlogSvc.RegisterRoutes(srv.Engine)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Queue.Enabled {
		poller.Start()
	} else {
		slog.Info("Delayed delivery poller disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	listenerSvc.Stop()

	if cfg.Queue.Enabled {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		poller.Stop(stopCtx)
		stopCancel()
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
