package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/okralabs/boardsync/internal/api/rest"
	"github.com/okralabs/boardsync/internal/config"
	"github.com/okralabs/boardsync/internal/engine"
	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/temporal"
	"github.com/okralabs/boardsync/internal/trello"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	temporalClient, err := temporal.NewClient(
		cfg.Temporal.Address,
		cfg.Temporal.Namespace,
		cfg.Temporal.TaskTimeout,
		cfg.Temporal.MaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	trelloClient := trello.NewClient(cfg.Trello.APIKey, cfg.Trello.Token, logger)
	gitlabClient := gitlab.NewClient(cfg.GitLab.BaseURL, cfg.GitLab.Token, logger)

	eng := engine.New(trelloClient, gitlabClient, st, engine.Config{
		MainBoardID:     cfg.Trello.MainBoardID,
		TopBoardID:      cfg.Trello.TopBoardID,
		CallbackBaseURL: cfg.Server.CallbackBaseURL,
	}, logger)

	hookCtx, hookCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.EnsureMainBoardHook(hookCtx); err != nil {
		hookCancel()
		logger.Fatal("failed to ensure main board webhook", zap.Error(err))
	}
	hookCancel()

	restHandler := rest.NewHandler(
		temporalClient,
		st,
		cfg.Trello.MainBoardID,
		cfg.Trello.TopBoardID,
		cfg.Server.AdminUser,
		cfg.Server.AdminPassword,
		logger,
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	restHandler.RegisterRoutes(router)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("starting callback server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
