// Package ledger records cart membership and bundle ownership for anonymous
// users on top of a database.Store.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"crate/internal/access"
	"crate/internal/catalog"
	"crate/internal/database"
	"crate/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultMaxItems is the cart size limit.
const DefaultMaxItems = 12

// Cart manages the per-user set of paid bundles awaiting checkout.
type Cart struct {
	store    database.Store
	catalog  *catalog.Catalog
	maxItems int
	logger   *logrus.Logger
}

// NewCart creates a cart ledger. maxItems below one falls back to DefaultMaxItems.
func NewCart(store database.Store, cat *catalog.Catalog, maxItems int, logger *logrus.Logger) *Cart {
	if maxItems < 1 {
		maxItems = DefaultMaxItems
	}
	return &Cart{
		store:    store,
		catalog:  cat,
		maxItems: maxItems,
		logger:   logger,
	}
}

// MaxItems returns the cart size limit.
func (c *Cart) MaxItems() int {
	return c.maxItems
}

// AddToCart puts a paid bundle in the user's cart. Adding a bundle that is
// already present succeeds, even when the cart is full.
func (c *Cart) AddToCart(ctx context.Context, userID, bundleID string) error {
	if err := access.RequireUser(userID); err != nil {
		return err
	}

	bundle, ok := c.catalog.Get(bundleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBundle, bundleID)
	}
	if bundle.IsFree() {
		return fmt.Errorf("%w: %s", ErrFreeBundleNotCartable, bundleID)
	}

	inserted, err := c.store.InsertCartEntry(ctx, userID, bundleID, c.maxItems)
	if err != nil {
		return err
	}
	if inserted {
		c.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"bundle_id": bundleID,
		}).Debug("Added tracklist to cart")
		return nil
	}

	present, err := c.store.CartContains(ctx, userID, bundleID)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("%w (max %d)", ErrCartFull, c.maxItems)
	}
	return nil
}

// AddAllToCart adds every paid bundle on the catalog page. The candidate
// count is checked against the limit up front; on failure nothing is added.
func (c *Cart) AddAllToCart(ctx context.Context, userID string, page int) ([]string, error) {
	if err := access.RequireUser(userID); err != nil {
		return nil, err
	}

	candidates := make([]string, 0, c.catalog.PageSize())
	for _, b := range c.catalog.Page(page) {
		if !b.IsFree() {
			candidates = append(candidates, b.ID)
		}
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	err := c.store.InsertCartEntries(ctx, userID, candidates, c.maxItems)
	if errors.Is(err, database.ErrLimitExceeded) {
		return nil, fmt.Errorf("%w (max %d)", ErrCartWouldExceedLimit, c.maxItems)
	}
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"page":    page,
		"count":   len(candidates),
	}).Debug("Added page to cart")
	return candidates, nil
}

// ClearCart empties the user's cart. Clearing an empty cart succeeds.
func (c *Cart) ClearCart(ctx context.Context, userID string) error {
	if err := access.RequireUser(userID); err != nil {
		return err
	}
	return c.store.ClearCart(ctx, userID)
}

// ListCart returns the bundles in the user's cart in insertion order. IDs no
// longer in the catalog are skipped. An empty user ID yields an empty list.
func (c *Cart) ListCart(ctx context.Context, userID string) ([]models.Bundle, error) {
	if userID == "" {
		return []models.Bundle{}, nil
	}

	ids, err := c.store.ListCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	bundles := make([]models.Bundle, 0, len(ids))
	for _, id := range ids {
		if b, ok := c.catalog.Get(id); ok {
			bundles = append(bundles, b)
		}
	}
	return bundles, nil
}
