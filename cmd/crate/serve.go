package main

import (
	"context"
	"fmt"
	"time"

	"crate/internal/auth"
	"crate/internal/catalog"
	"crate/internal/checkout"
	"crate/internal/config"
	"crate/internal/database"
	"crate/internal/logging"
	"crate/internal/ngrok"
	"crate/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const processorCacheTTL = 30 * time.Minute

// loadCatalog decrypts the configured catalog. With catalog.allow_empty set a
// missing key or unreadable file degrades to an empty storefront instead.
func loadCatalog(cfg *config.Config, logger *logrus.Logger) (*catalog.Catalog, error) {
	opts := catalog.Options{PageSize: cfg.Catalog.PageSize}

	key, err := cfg.CatalogKey()
	if err == nil {
		var cat *catalog.Catalog
		cat, err = catalog.Load(cfg.Catalog.Path, key, opts, logger)
		if err == nil {
			return cat, nil
		}
	}

	if !cfg.Catalog.AllowEmpty {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.WithError(err).WithField("path", cfg.Catalog.Path).Warn("Catalog unavailable, serving an empty storefront")
	return catalog.Empty(opts), nil
}

func serveAction(bootLogger *logrus.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadConfig(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}

		logger, closer, err := logging.New(cfg.Logging)
		if err != nil {
			bootLogger.WithError(err).Warn("Falling back to the startup logger")
			logger = bootLogger
		} else {
			defer closer.Close()
		}

		cat, err := loadCatalog(cfg, logger)
		if err != nil {
			return err
		}

		store, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		defer store.Close()

		sessions, err := auth.NewService(cfg.Session, store, logger)
		if err != nil {
			return fmt.Errorf("error creating session service: %w", err)
		}
		defer sessions.Close()

		var processor checkout.Processor = checkout.DisabledProcessor{}
		if cfg.PaymentsEnabled() {
			cached := checkout.NewCachedProcessor(checkout.NewStripeProcessor(cfg.Payments.SecretKey, logger), processorCacheTTL)
			defer cached.Close()
			processor = cached
		} else {
			logger.Warn("STRIPE_SECRET_KEY not set, checkout is disabled")
		}

		tunnel, err := ngrok.NewService(&cfg.Ngrok, logger)
		if err != nil {
			logger.WithError(err).Warn("ngrok disabled")
			tunnel = nil
		}

		storeServer, err := server.NewStoreServer(server.Deps{
			Config:    cfg,
			Logger:    logger,
			Store:     store,
			Catalog:   cat,
			Sessions:  sessions,
			Processor: processor,
			Ngrok:     tunnel,
		})
		if err != nil {
			return fmt.Errorf("error creating store server: %w", err)
		}

		return storeServer.Start(ctx)
	}
}
