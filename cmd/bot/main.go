package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/semaphore"

	"radarsafi/internal/chat"
	"radarsafi/internal/config"
	"radarsafi/internal/gemini"
	"radarsafi/internal/handlers"
	"radarsafi/internal/httpclient"
	"radarsafi/internal/inflight"
	"radarsafi/internal/logging"
	"radarsafi/internal/mediagroup"
	"radarsafi/internal/quiz"
	"radarsafi/internal/telegram"
	"radarsafi/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout(),
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	gem := gemini.New(gemini.Options{
		Credentials: gemini.StaticKey(cfg.GeminiAPIKey),
		BaseURL:     cfg.GeminiBaseURL,
		APIVersion:  cfg.GeminiAPIVersion,
		Model:       cfg.GeminiModel,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is empty; every reply will ask for a key")
	}

	history := chat.NewHistory(cfg.MaxHistoryMessages)

	handler := handlers.New(handlers.Options{
		Messenger: tg,
		Chat:      chat.New(chat.Options{Sender: gem, History: history, Logger: logger}),
		Quiz:      quiz.NewGenerator(gem, logger),
		Quizzes:   quiz.NewStore(time.Hour),
		Verify:    verify.New(gem, logger),
		Inflight:  inflight.New(),
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))

	handler.SetAlbumAggregator(mediagroup.New(mediagroup.Options{
		Wait: cfg.AlbumWait(),
		OnReady: func(album mediagroup.Album) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func() {
				defer sem.Release(1)

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
				defer cancel()

				if err := handler.HandleAlbum(reqCtx, album); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle album failed", "err", err)
				}
			}()
		},
	}))

	logger.Info("bot started", "username", tg.Username(), "model", gem.Model())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	prune := time.NewTicker(10 * time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			// Let running replies finish.
			_ = sem.Acquire(context.Background(), int64(cfg.MaxConcurrent))
			return
		case <-prune.C:
			if n := history.Prune(24 * time.Hour); n > 0 {
				logger.Info("pruned idle conversations", "count", n)
			}
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}

			go func(update telegram.Update) {
				defer sem.Release(1)

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}
