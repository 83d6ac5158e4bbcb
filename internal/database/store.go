package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crate/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	// ErrStoreUnavailable wraps every failure reported by the underlying driver.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLimitExceeded is returned by InsertCartEntries when the batch would
	// push the cart over its limit. Nothing is inserted in that case.
	ErrLimitExceeded = errors.New("cart limit exceeded")
)

// Promotion describes the outcome of PromoteCart.
type Promotion struct {
	// BundleIDs moved from the cart into purchases by this call.
	BundleIDs []string
	// AlreadyPromoted is set when the checkout session was promoted earlier;
	// no rows were touched.
	AlreadyPromoted bool
}

// Store is the persistence boundary for the cart and purchase ledgers. Both
// implementations key rows by (user_id, bundle_id) and rely on that primary
// key for idempotent inserts.
type Store interface {
	// InsertCartEntry adds a row when the user holds fewer than limit rows.
	// inserted is false when the row already existed or the cart was full.
	InsertCartEntry(ctx context.Context, userID, bundleID string, limit int) (inserted bool, err error)
	// InsertCartEntries adds all rows in one transaction, or none.
	InsertCartEntries(ctx context.Context, userID string, bundleIDs []string, limit int) error
	CartContains(ctx context.Context, userID, bundleID string) (bool, error)
	CountCart(ctx context.Context, userID string) (int, error)
	// ListCart returns bundle IDs in insertion order.
	ListCart(ctx context.Context, userID string) ([]string, error)
	ClearCart(ctx context.Context, userID string) error

	InsertPurchase(ctx context.Context, userID, bundleID string) (inserted bool, err error)
	HasPurchase(ctx context.Context, userID, bundleID string) (bool, error)
	ListPurchases(ctx context.Context, userID string) ([]models.PurchaseEntry, error)

	// PromoteCart claims sessionID, copies the user's cart into purchases and
	// empties the cart, all in one transaction.
	PromoteCart(ctx context.Context, userID, sessionID string) (Promotion, error)

	// SaveSession inserts or replaces the session row.
	SaveSession(ctx context.Context, session *models.Session) error
	// GetSession returns nil without error when no row exists.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes rows whose expiry is before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	// CountSessions counts rows still live at now.
	CountSessions(ctx context.Context, now time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open picks the backend from the connection string. "postgres://" and
// "postgresql://" select Postgres; "sqlite://path" or a bare path select SQLite.
func Open(ctx context.Context, url string, maxConns int, logger *logrus.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url, maxConns, logger)
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(url, "sqlite://"), maxConns, logger)
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported database url scheme: %s", url)
	default:
		return NewSQLiteStore(url, maxConns, logger)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
