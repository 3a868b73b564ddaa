package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repodigest/internal/api"
	"repodigest/internal/config"
	"repodigest/internal/gitremote"
	"repodigest/internal/llm"
	"repodigest/internal/service"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	git := gitremote.NewClient(cfg.GitHubToken, log)
	model := llm.NewClient(llm.Config{
		APIKey:              cfg.LLMAPIKey,
		BaseURL:             cfg.LLMBaseURL,
		ModelID:             cfg.LLMModelID,
		ContextWindowTokens: cfg.ContextWindowTokens,
		Temperature:         cfg.LLMTemperature,
		TopP:                cfg.LLMTopP,
		MaxOutputTokens:     cfg.LLMMaxOutputTokens,
		MaxRetries:          cfg.LLMMaxRetries,
	}, log)

	svc := service.New(git, model, cfg, log)

	// Initialize HTTP server.
	srv := api.NewServer(svc, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		model.Close()
		git.Close()
	}()

	log.Info("starting repodigest", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
