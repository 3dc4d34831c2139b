package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"conductor/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "conductor",
		Usage: "single-host CI pipeline orchestrator",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "execute the pipeline once; exits non-zero unless the run succeeds",
				ArgsUsage: "[pipeline file]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-concurrency",
						Usage: "maximum jobs running in parallel",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "cancel-on-failure",
						Usage: "cancel remaining jobs when a required job fails",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "emit the run report as JSON",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					configPath := c.Args().First()
					if configPath == "" {
						configPath = "conductor.yml"
					}
					return cmd.Run(ctx, configPath, cmd.RunOptions{
						MaxConcurrency:  int(c.Int("max-concurrency")),
						CancelOnFailure: c.Bool("cancel-on-failure"),
						JSONReport:      c.Bool("json"),
					})
				},
			},
			{
				Name:      "serve",
				Usage:     "listen for repository events and schedule runs",
				ArgsUsage: "[pipeline file]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-concurrency",
						Usage: "maximum jobs running in parallel per run",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "cancel-on-failure",
						Usage: "cancel remaining jobs when a required job fails",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					configPath := c.Args().First()
					if configPath == "" {
						configPath = "conductor.yml"
					}
					return cmd.Serve(ctx, configPath, cmd.ServeOptions{
						MaxConcurrency:  int(c.Int("max-concurrency")),
						CancelOnFailure: c.Bool("cancel-on-failure"),
					})
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalf("❌ %v", err)
	}
}
