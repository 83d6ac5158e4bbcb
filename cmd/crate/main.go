package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	// Basic logger for startup; serve replaces it once the config is read.
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "crate",
		Usage: "Tracklist storefront",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the storefront HTTP server",
				Action: serveAction(logger),
			},
			{
				Name:  "catalog",
				Usage: "Encrypted catalog tools",
				Commands: []*cli.Command{
					{
						Name:  "seal",
						Usage: "Encrypt a plaintext catalog JSON file with ENCRYPTION_KEY",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "in",
								Aliases:  []string{"i"},
								Usage:    "Plaintext catalog JSON",
								Required: true,
							},
							&cli.StringFlag{
								Name:    "out",
								Aliases: []string{"o"},
								Usage:   "Output path (defaults to catalog.path from config)",
							},
						},
						Action: sealAction(logger),
					},
					{
						Name:   "check",
						Usage:  "Decrypt the configured catalog and report what loaded",
						Action: checkAction(logger),
					},
				},
			},
		},
		Action: serveAction(logger),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.WithError(err).Fatal("crate exited with error")
	}
}
