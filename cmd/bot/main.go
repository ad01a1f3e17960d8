package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"prayer-bot/internal/bot"
	"prayer-bot/internal/config"
	"prayer-bot/internal/logging"
	"prayer-bot/internal/prayertimes"
	"prayer-bot/internal/scheduler"
	"prayer-bot/internal/server"
	"prayer-bot/internal/storage"
)

type groupStore interface {
	ListGroups(ctx context.Context) ([]storage.Group, error)
	GetGroup(ctx context.Context, id string) (*storage.Group, error)
	UpsertGroup(ctx context.Context, g storage.Group) (*storage.Group, error)
	Close() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer store.Close()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("new bot")
	}
	logger.Info().Str("username", api.Self.UserName).Msg("authorized")

	messenger := bot.NewMessenger(api)
	provider := prayertimes.New(cfg.PrayerAPIURL, cfg.PrayerMethod)

	registry := scheduler.NewRegistry(logger)
	builder := scheduler.NewBuilder(provider, registry, messenger, logger)
	orchestrator := scheduler.NewOrchestrator(store, builder, registry,
		scheduler.NewCron(cfg.ReferenceTZ, logger),
		scheduler.Options{PrayerNames: cfg.PrayerNames, Concurrency: cfg.BuildConcurrency},
		logger)
	if err := orchestrator.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start reminders")
	}
	defer orchestrator.Stop()

	b := bot.New(messenger, store, provider, orchestrator, cfg.AdminIDs, cfg.PrayerNames, logger)
	srv := server.New(server.Config{
		Addr:          cfg.HTTPAddr,
		WebhookSecret: cfg.WebhookSecret,
		AdminToken:    cfg.AdminToken,
	}, b, orchestrator, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.WebhookMode {
		wh, err := tgbotapi.NewWebhook(cfg.WebhookURL + "/webhook/" + cfg.WebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("webhook config")
		}
		if _, err := api.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("set webhook")
		}
		logger.Info().Msg("receiving updates via webhook")
	} else {
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("delete webhook")
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)
		g.Go(func() error {
			defer api.StopReceivingUpdates()
			return b.Run(gctx, updates)
		})
		logger.Info().Msg("receiving updates via long polling")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("bot stopped")
	}
	logger.Info().Msg("shutting down")
}

func openStore(ctx context.Context, cfg *config.Config) (groupStore, error) {
	if cfg.StoreDriver == config.DriverRedis {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return storage.NewRedis(rdb), nil
	}

	db, err := storage.Open(cfg.StoreDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	s := storage.New(db, cfg.StoreDriver)
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
