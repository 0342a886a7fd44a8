package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/okralabs/boardsync/internal/activities"
	"github.com/okralabs/boardsync/internal/config"
	"github.com/okralabs/boardsync/internal/engine"
	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/temporal"
	"github.com/okralabs/boardsync/internal/temporal/workflows"
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

	trelloClient := trello.NewClient(cfg.Trello.APIKey, cfg.Trello.Token, logger)
	gitlabClient := gitlab.NewClient(cfg.GitLab.BaseURL, cfg.GitLab.Token, logger)

	eng := engine.New(trelloClient, gitlabClient, st, engine.Config{
		MainBoardID:     cfg.Trello.MainBoardID,
		TopBoardID:      cfg.Trello.TopBoardID,
		CallbackBaseURL: cfg.Server.CallbackBaseURL,
	}, logger)
	acts := activities.New(eng, logger)

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	queues := []string{temporal.QueueHigh, temporal.QueueDefault, temporal.QueueLow}
	workers := make([]worker.Worker, 0, len(queues))
	for _, queue := range queues {
		w := worker.New(temporalClient, queue, temporal.WorkerOptions())
		w.RegisterWorkflow(workflows.ReconcileWorkflow)
		w.RegisterActivity(acts)

		if err := w.Start(); err != nil {
			logger.Fatal("failed to start worker", zap.String("queue", queue), zap.Error(err))
		}
		logger.Info("worker started", zap.String("queue", queue))
		workers = append(workers, w)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	for _, w := range workers {
		w.Stop()
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
