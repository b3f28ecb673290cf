// Package main is the entry point for the in-memory dev server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openvibe/messaging-client/internal/config"
	"github.com/openvibe/messaging-client/internal/devserver"
	"github.com/openvibe/messaging-client/internal/llm"
	"github.com/openvibe/messaging-client/pkg/logger"
	"github.com/openvibe/messaging-client/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting dev server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-devserver", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var bot llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		bot, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		bot, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	default:
		bot = llm.NewCannedClient()
	}
	if err != nil {
		log.Warn("failed to create chatbot provider, using canned replies", zap.Error(err))
		bot = llm.NewCannedClient()
	}
	log.Info("chatbot provider ready", zap.String("provider", bot.Name()))

	srv := devserver.New(devserver.Options{
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiration:     cfg.JWTExpiration,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Bot:               bot,
	})
	go srv.Run(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	cancel()

	log.Info("server stopped")
}
