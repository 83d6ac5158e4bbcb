package ledger

import (
	"context"
	"fmt"

	"crate/internal/access"
	"crate/internal/catalog"
	"crate/internal/database"

	"github.com/sirupsen/logrus"
)

// Purchases is the append-only ownership ledger. A row in the store is the
// only evidence that a user owns a bundle.
type Purchases struct {
	store   database.Store
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewPurchases creates a purchase ledger.
func NewPurchases(store database.Store, cat *catalog.Catalog, logger *logrus.Logger) *Purchases {
	return &Purchases{
		store:   store,
		catalog: cat,
		logger:  logger,
	}
}

// RecordPurchase marks the bundle as owned. Recording it twice is a no-op.
func (p *Purchases) RecordPurchase(ctx context.Context, userID, bundleID string) error {
	if err := access.RequireUser(userID); err != nil {
		return err
	}
	if _, ok := p.catalog.Get(bundleID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBundle, bundleID)
	}

	inserted, err := p.store.InsertPurchase(ctx, userID, bundleID)
	if err != nil {
		return err
	}
	if inserted {
		p.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"bundle_id": bundleID,
		}).Info("Purchased tracklist")
	}
	return nil
}

// Unlock records ownership of a free bundle. Paid bundles go through checkout.
func (p *Purchases) Unlock(ctx context.Context, userID, bundleID string) error {
	if err := access.RequireUser(userID); err != nil {
		return err
	}
	bundle, ok := p.catalog.Get(bundleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBundle, bundleID)
	}
	if !bundle.IsFree() {
		return fmt.Errorf("%w: %s", ErrPaymentRequired, bundleID)
	}
	return p.RecordPurchase(ctx, userID, bundleID)
}

// HasPurchased reports whether the user owns the bundle. Anonymous callers own nothing.
func (p *Purchases) HasPurchased(ctx context.Context, userID, bundleID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return p.store.HasPurchase(ctx, userID, bundleID)
}

// ListPurchased returns the set of bundle IDs the user owns.
func (p *Purchases) ListPurchased(ctx context.Context, userID string) (map[string]bool, error) {
	owned := make(map[string]bool)
	if userID == "" {
		return owned, nil
	}

	entries, err := p.store.ListPurchases(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		owned[entry.BundleID] = true
	}
	return owned, nil
}
