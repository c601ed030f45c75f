package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"radarsafi/internal/chat"
	"radarsafi/internal/config"
	"radarsafi/internal/gemini"
	"radarsafi/internal/httpclient"
	"radarsafi/internal/inflight"
	"radarsafi/internal/logging"
	"radarsafi/internal/quiz"
	"radarsafi/internal/verify"
	"radarsafi/internal/web"
)

const (
	historyIdle    = 24 * time.Hour
	pruneInterval  = 10 * time.Minute
	shutdownWindow = 15 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout(),
	})

	serverKey := ""
	switch {
	case cfg.WebUseServerKey && cfg.GeminiAPIKey != "":
		serverKey = cfg.GeminiAPIKey
		logger.Warn("visitors without their own key use GEMINI_API_KEY", "env", "WEB_USE_SERVER_KEY")
	case cfg.GeminiAPIKey != "":
		logger.Info("GEMINI_API_KEY ignored by the web server; set WEB_USE_SERVER_KEY=true to share it")
	}

	gem := gemini.New(gemini.Options{
		Credentials: web.Credentials(serverKey),
		BaseURL:     cfg.GeminiBaseURL,
		APIVersion:  cfg.GeminiAPIVersion,
		Model:       cfg.GeminiModel,
		HTTPClient:  httpClient,
		Logger:      logger,
	})

	history := chat.NewHistory(cfg.MaxHistoryMessages)

	s := web.New(web.Options{
		Chat:           chat.New(chat.Options{Sender: gem, History: history, Logger: logger}),
		Quiz:           quiz.NewGenerator(gem, logger),
		Quizzes:        quiz.NewStore(time.Hour),
		Verify:         verify.New(gem, logger),
		Inflight:       inflight.New(),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout(),
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr, "model", gem.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := history.Prune(historyIdle); n > 0 {
					logger.Info("pruned idle conversations", "count", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
