package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/relancehq/relance/pkg/cmd"
	"github.com/relancehq/relance/pkg/engine"
	"github.com/relancehq/relance/pkg/log"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/prefs"
	"github.com/relancehq/relance/pkg/throttle"
)

func main() {
	command := &cli.Command{
		Name:                  "relance-trigger",
		EnableShellCompletion: true,
		Usage:                 "Manually start a workflow instance",
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
				Name:    "gateway-url",
				Usage:   "Outreach messaging gateway URL",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-api-key",
				Usage:   "Outreach messaging gateway API key",
				Sources: cli.EnvVars("GATEWAY_API_KEY"),
			},
			&cli.StringFlag{
				Name:     "tenant-id",
				Usage:    "Owning tenant",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "Workflow kind (review_request, review_reply_approval, lead_outreach, photo_request, post_request)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "dedup-key",
				Usage:    "Natural key for the triggering event (invoice id, call id, period)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "payload",
				Usage: "Kind-specific payload as JSON",
				Value: "{}",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runTrigger,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Trigger exited with error", "error", err)
		os.Exit(1)
	}
}

func runTrigger(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("relance-trigger")

	var payload map[string]any

	err := json.Unmarshal([]byte(command.String("payload")), &payload)
	if err != nil {
		return fmt.Errorf("invalid payload JSON: %w", err)
	}

	instanceStore := cmd.NewStore(ctx, logger, command.String("database-url"))
	defer func() {
		err := instanceStore.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	jobScheduler := cmd.NewScheduler(ctx, logger, command.String("scheduler-url"))
	outreach := cmd.NewChannel(command.String("gateway-url"), command.String("gateway-api-key"), logger)

	workflowEngine := engine.NewEngine(
		logger,
		instanceStore,
		jobScheduler,
		outreach,
		throttle.New(throttle.DefaultInterval),
		prefs.NewCache(instanceStore, prefs.DefaultTTL),
	)

	instance, err := workflowEngine.Start(ctx, models.StartRequest{
		TenantID: command.String("tenant-id"),
		Kind:     models.Kind(command.String("kind")),
		DedupKey: command.String("dedup-key"),
		Payload:  payload,
	})
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateActive) {
			logger.InfoContext(ctx, "Active instance already exists",
				"instance_id", instance.ID,
				"state", instance.State)

			return nil
		}

		return err
	}

	logger.InfoContext(ctx, "Workflow instance started",
		"instance_id", instance.ID,
		"state", instance.State,
		"step_index", instance.StepIndex)

	return nil
}
