package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/catalog"
	"github.com/tjfontaine/copilot-bridge/internal/config"
	"github.com/tjfontaine/copilot-bridge/internal/credential"
	"github.com/tjfontaine/copilot-bridge/internal/handlers"
	"github.com/tjfontaine/copilot-bridge/internal/recorder"
	"github.com/tjfontaine/copilot-bridge/internal/rename"
	"github.com/tjfontaine/copilot-bridge/internal/server"
	"github.com/tjfontaine/copilot-bridge/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("copilot-bridge", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	client := copilot.NewClient(cfg.Account.Type,
		copilot.WithEditorVersion("vscode/"+cfg.Editor.Version))

	creds := credential.NewManager(client, cfg.GitHub.Token, logger)
	mapper := rename.New(cfg.Rename.Auto, cfg.Rename.Overrides)
	models := catalog.New(client, mapper, time.Duration(cfg.Models.CacheTTL)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if creds.HasOperatorToken() {
		// Warm up the operator credential; failures are not fatal since the
		// refresh loop retries and requests acquire lazily.
		if err := creds.Acquire(ctx); err != nil {
			logger.Warn("initial credential exchange failed", slog.String("error", err.Error()))
		} else if _, err := models.Models(ctx, mustToken(creds)); err != nil {
			logger.Warn("model catalog prefetch failed", slog.String("error", err.Error()))
		}
		go creds.Run(ctx)
	} else {
		logger.Info("no operator token configured; callers must supply GitHub tokens")
	}

	opts := []handlers.Option{handlers.WithThinkingEmulation(cfg.Thinking.Emulate)}
	var rec *recorder.Recorder
	if cfg.Recorder.Path != "" {
		rec, err = recorder.Open(cfg.Recorder.Path)
		if err != nil {
			log.Fatalf("Failed to open interaction recorder: %v", err)
		}
		defer rec.Close()
		opts = append(opts, handlers.WithRecorder(rec))
	}

	h := handlers.New(client, creds, models, mapper, logger, opts...)

	srv := server.New(cfg.Server.Port, logger)
	h.Routes(srv.Router)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func mustToken(creds *credential.Manager) string {
	cred, err := creds.Current()
	if err != nil {
		return ""
	}
	return cred.Token
}
