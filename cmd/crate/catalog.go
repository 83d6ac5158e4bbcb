package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"crate/internal/catalog"
	"crate/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// sealAction encrypts a plaintext catalog so it can be shipped next to the binary.
func sealAction(logger *logrus.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadConfig(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		key, err := cfg.CatalogKey()
		if err != nil {
			return err
		}

		plaintext, err := os.ReadFile(cmd.String("in"))
		if err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}

		// Refuse to seal something the server could not load.
		bundles, err := catalog.Parse(plaintext, logger)
		if err != nil {
			return err
		}

		blob, err := catalog.Seal(plaintext, key)
		if err != nil {
			return err
		}

		out := cmd.String("out")
		if out == "" {
			out = cfg.Catalog.Path
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(out, blob, 0644); err != nil {
			return fmt.Errorf("failed to write sealed catalog: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"path":    out,
			"bundles": len(bundles),
		}).Info("Catalog sealed")
		return nil
	}
}

// checkAction loads the configured catalog exactly as serve would.
func checkAction(logger *logrus.Logger) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadConfig(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		key, err := cfg.CatalogKey()
		if err != nil {
			return err
		}

		cat, err := catalog.Load(cfg.Catalog.Path, key, catalog.Options{PageSize: cfg.Catalog.PageSize}, logger)
		if err != nil {
			return err
		}

		free := 0
		for _, id := range cat.IDs() {
			if b, ok := cat.Get(id); ok && b.IsFree() {
				free++
			}
		}
		fmt.Printf("%d tracklists (%d free, %d paid) across %d pages\n", cat.Len(), free, cat.Len()-free, cat.TotalPages())
		return nil
	}
}
