// Package main is the entry point for the FinCopilot chat API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := config.LoadDotEnv(*envFile); err != nil {
		bootstrap.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfgManager, err := config.NewManager(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Redact: cfg.Logging.Redact,
	})
	slog.SetDefault(logger)
	logger.Info("starting FinCopilot backend", "port", cfg.Server.Port)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "code", w.Code, "message", w.Message)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	application, err := buildApp(ctx, cfgManager, logger, tp.Tracer())
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      application.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()
	if err := application.Close(); err != nil {
		logger.Error("failed to release resources", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	_ = cfgManager.Close()
	logger.Info("server stopped")
}
