package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/relancehq/relance/pkg/campaign"
	"github.com/relancehq/relance/pkg/cmd"
	"github.com/relancehq/relance/pkg/engine"
	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/log"
	"github.com/relancehq/relance/pkg/otelhelper"
	"github.com/relancehq/relance/pkg/prefs"
	"github.com/relancehq/relance/pkg/throttle"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start a worker executing scheduled escalation steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
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
				Name:    "gateway-url",
				Usage:   "Outreach messaging gateway URL",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-api-key",
				Usage:   "Outreach messaging gateway API key",
				Sources: cli.EnvVars("GATEWAY_API_KEY"),
			},
			&cli.DurationFlag{
				Name:    "send-interval",
				Usage:   "Minimum spacing between sends per tenant",
				Value:   throttle.DefaultInterval,
				Sources: cli.EnvVars("SEND_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "campaigns",
				Usage:   "Also run the recurring campaign poller",
				Value:   false,
				Sources: cli.EnvVars("RUN_CAMPAIGNS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runWorker,
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("relance-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Relance worker")

	instanceStore := cmd.NewStore(ctx, logger, command.String("database-url"))
	defer func() {
		err := instanceStore.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	jobScheduler := cmd.NewScheduler(ctx, logger, command.String("scheduler-url"))

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger, events.LifecycleTopic)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	outreach := cmd.NewChannel(command.String("gateway-url"), command.String("gateway-api-key"), logger)

	engineOpts := []engine.Option{engine.WithEventBus(eventBus)}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "relance-worker")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		engineOpts = append(engineOpts, engine.WithTracer(tracer))
	}

	workflowEngine := engine.NewEngine(
		logger,
		instanceStore,
		jobScheduler,
		outreach,
		throttle.New(command.Duration("send-interval")),
		prefs.NewCache(instanceStore, prefs.DefaultTTL),
		engineOpts...,
	)

	err := jobScheduler.Start(ctx, workflowEngine.HandleJob)
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var campaignRunner *campaign.Runner

	if command.Bool("campaigns") {
		campaignRunner = campaign.NewRunner(logger, instanceStore, workflowEngine)

		err = campaignRunner.Start(ctx)
		if err != nil {
			return fmt.Errorf("failed to start campaign runner: %w", err)
		}
	}

	logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.InfoContext(ctx, "Shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if campaignRunner != nil {
		err = campaignRunner.Stop(shutdownCtx)
		if err != nil {
			logger.ErrorContext(shutdownCtx, "Failed to stop campaign runner", "error", err)
		}
	}

	err = jobScheduler.Stop(shutdownCtx)
	if err != nil {
		logger.ErrorContext(shutdownCtx, "Failed to stop scheduler", "error", err)
	}

	return nil
}
