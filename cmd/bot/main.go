package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"tg_group_guard_bot/internal/config"
	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/feature/antispam"
	"tg_group_guard_bot/internal/feature/features"
	"tg_group_guard_bot/internal/feature/group"
	"tg_group_guard_bot/internal/feature/masskick"
	"tg_group_guard_bot/internal/feature/moderation"
	"tg_group_guard_bot/internal/feature/roster"
	"tg_group_guard_bot/internal/health"
	"tg_group_guard_bot/internal/logging"
	"tg_group_guard_bot/internal/store"
	"tg_group_guard_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	app := &cli.App{
		Name:  "group-guard-bot",
		Usage: "Telegram group moderation bot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "config-only",
				Usage: "load and print configuration then exit",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		return fmt.Errorf("logger setup error: %w", err)
	}

	if cctx.Bool("config-only") {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return nil
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		return fmt.Errorf("mongo connection error: %w", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureBaseIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		logger.WithError(err).Error("mongo index setup error")
		return fmt.Errorf("mongo index setup error: %w", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	triggers, err := antispam.LoadTriggers(cfg.SpamTriggersFile)
	if err != nil {
		logger.WithError(err).Error("spam trigger setup error")
		return fmt.Errorf("spam trigger setup error: %w", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		return fmt.Errorf("telegram client setup error: %w", err)
	}

	dispatcher, orchestrator, err := buildDispatcher(cfg, mongoManager, tgClient.Platform(), triggers, logger)
	if err != nil {
		logger.WithError(err).Error("dispatcher setup error")
		return fmt.Errorf("dispatcher setup error: %w", err)
	}
	tgClient.Handle(dispatcher)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, health.Checks{
		Mongo:    mongoManager,
		Telegram: tgClient,
		Sweeps:   orchestrator,
	}, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweeps started by confirmations inherit this context and stop with it.
	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	sweepsDone := make(chan struct{})
	go func() {
		<-tgDone
		orchestrator.Wait()
		close(sweepsDone)
	}()
	select {
	case <-sweepsDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client and sweeps to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
	return nil
}

// buildDispatcher wires the moderation components over MongoDB and the
// Telegram platform adapter.
func buildDispatcher(cfg config.Config, mongoManager *store.Manager, platform *telegram.Platform, triggers []string, logger *logrus.Entry) (*telegram.Dispatcher, *masskick.Orchestrator, error) {
	featureStore := features.NewStore(mongoManager.Features(), nil, logger)
	registrar := group.NewRegistrar(mongoManager.Groups(), featureStore, platform, logger)
	memberRoster := roster.NewRoster(mongoManager.Members(), logger)
	settings := antispam.NewSettingsStore(mongoManager.AntiSpam(), logger)
	admins := moderation.NewAdminChecker(platform, logger)

	engine := antispam.NewEngine(settings, antispam.NewMatcher(triggers), platform, logger)
	moderator := moderation.NewService(platform, admins, mongoManager.Warnings(), settings, memberRoster, logger)
	orchestrator := masskick.NewOrchestrator(platform, memberRoster, registrar, admins, masskick.Options{
		Delay: cfg.KickAllDelay,
		TTL:   cfg.KickAllTTL,
	}, logger)

	dispatcher, err := telegram.NewDispatcher(telegram.Deps{
		Platform:   platform,
		Groups:     registrar,
		Owned:      domain.NewGroupRepository(mongoManager.Groups()),
		Features:   featureStore,
		AntiSpam:   settings,
		Spam:       engine,
		Moderation: moderator,
		KickAll:    orchestrator,
		Roster:     memberRoster,
		Admins:     admins,
		Stats:      store.NewStatsProvider(mongoManager.Groups(), mongoManager.AntiSpam(), mongoManager.Members()),
		BotOwner:   cfg.BotOwnerID,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	return dispatcher, orchestrator, nil
}
