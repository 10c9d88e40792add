package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/relancehq/relance/pkg/cmd"
	"github.com/relancehq/relance/pkg/detector"
	"github.com/relancehq/relance/pkg/engine"
	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/log"
	"github.com/relancehq/relance/pkg/prefs"
	"github.com/relancehq/relance/pkg/throttle"
)

func main() {
	command := &cli.Command{
		Name:                  "relance-detector",
		EnableShellCompletion: true,
		Usage:                 "Consume the completion feed and complete matched workflow instances",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for the workflow store",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "scheduler-url",
				Usage:    "Scheduler backend URL (redis://... or memory://)",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULER_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runDetector,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Detector exited with error", "error", err)
		os.Exit(1)
	}
}

func runDetector(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	detectorID := "detector-" + uuid.New().String()[:8]
	logger := log.WithModule("relance-detector").With("detector_id", detectorID)

	logger.InfoContext(ctx, "Initializing Relance completion detector")

	instanceStore := cmd.NewStore(ctx, logger, command.String("database-url"))
	defer func() {
		err := instanceStore.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	// The detector needs the engine's Complete path, which cancels jobs and
	// publishes lifecycle events; it never sends, so the channel stays the
	// in-memory one.
	jobScheduler := cmd.NewScheduler(ctx, logger, command.String("scheduler-url"))

	lifecycleBus := cmd.NewEventBus(command.String("event-bus"), logger, events.LifecycleTopic)
	defer func() {
		err := lifecycleBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close lifecycle bus", "error", err)
		}
	}()

	completionBus := cmd.NewEventBus(command.String("event-bus"), logger, events.CompletionTopic)
	defer func() {
		err := completionBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close completion bus", "error", err)
		}
	}()

	workflowEngine := engine.NewEngine(
		logger,
		instanceStore,
		jobScheduler,
		cmd.NewChannel("", "", logger),
		throttle.New(0),
		prefs.NewCache(instanceStore, prefs.DefaultTTL),
		engine.WithEventBus(lifecycleBus),
	)

	completionDetector := detector.NewDetector(logger, instanceStore, workflowEngine, completionBus)

	err := completionDetector.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}

	logger.InfoContext(ctx, "Detector started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.InfoContext(ctx, "Shutting down detector")

	return nil
}
