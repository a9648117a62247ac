// main package for the narration-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/app"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/worker"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "narration-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, cfg.Paths.LogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, jetstreamContext, err := app.Connect(cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to connect to NATS: %v", err)

		return err
	}

	defer natsConnection.Close()

	narration, err := app.Build(ctx, cfg, jetstreamContext, finalLog)
	if err != nil {
		finalLog.Error("Failed to assemble pipeline: %v", err)

		return fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	defer func() {
		closeErr := narration.Close()
		if closeErr != nil {
			finalLog.Error("Failed to close pipeline backends: %v", closeErr)
		}
	}()

	natsWorker, err := worker.NewNatsWorker(natsConnection, narration, worker.Options{
		Subject:       cfg.NATS.RequestSubject,
		QueueGroup:    cfg.NATS.QueueGroup,
		HandleTimeout: cfg.RequestTimeout(),
	}, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	finalLog.System("Narration service initialized. Listening for batches on subject: %s", cfg.NATS.RequestSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		finalLog.Error("Worker stopped with error: %v", err)

		return fmt.Errorf("worker stopped: %w", err)
	}

	finalLog.System("Narration service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
