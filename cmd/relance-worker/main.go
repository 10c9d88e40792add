package main

import (
	"context"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "relance-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the escalation step worker",
		Commands: []*cli.Command{
			NewRunCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}
