// Package main is the camera control server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/app"
	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/logging"
)

func main() {
	root := &cli.Command{
		Name:    "ccs",
		Usage:   "Camera control server",
		Version: app.Version,
		Commands: []*cli.Command{
			serveCommand(),
			sendCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the command and web servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file (defaults to $" + config.EnvConfigFile + ")",
			},
			&cli.StringFlag{
				Name:    "system",
				Aliases: []string{"s"},
				Usage:   "Camera system name",
			},
			&cli.StringFlag{
				Name:  "datafolder",
				Usage: "Data folder holding parameters, templates and logs",
			},
			&cli.StringFlag{
				Name:  "parfile",
				Usage: "Parameter file overlaid onto the tools at startup",
			},
			&cli.IntFlag{
				Name:  "command-port",
				Usage: "Command server port",
			},
			&cli.IntFlag{
				Name:  "web-port",
				Usage: "Web server port",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), config.Overrides{
		SystemName:  cmd.String("system"),
		DataFolder:  cmd.String("datafolder"),
		ParFile:     cmd.String("parfile"),
		CommandPort: int(cmd.Int("command-port")),
		WebPort:     int(cmd.Int("web-port")),
		LogLevel:    cmd.String("log-level"),
	})
	if err != nil {
		return err
	}

	logger, err := logging.Start(logging.FromConfig(cfg.Logging, cfg.Paths().LogFile))
	if err != nil {
		return fmt.Errorf("failed to start logging: %w", err)
	}
	defer logger.Stop()

	logger.Info("Starting camera control server",
		zap.String("version", app.Version),
		zap.String("system", cfg.System.Name))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to build server", zap.Error(err))
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return err
	}
	return nil
}
