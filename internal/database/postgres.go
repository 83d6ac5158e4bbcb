package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crate/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store on a pgx connection pool. Cart writes take a
// per-user transaction-scoped advisory lock so the limit check and the insert
// observe the same cart.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStore connects to the database at url and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string, maxConns int, logger *logrus.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger,
	}
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.WithField("host", cfg.ConnConfig.Host).Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cart (
			user_id VARCHAR(255) NOT NULL,
			bundle_id VARCHAR(255) NOT NULL,
			seq BIGINT GENERATED ALWAYS AS IDENTITY,
			added_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, bundle_id)
		)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			user_id VARCHAR(255) NOT NULL,
			bundle_id VARCHAR(255) NOT NULL,
			purchase_date TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, bundle_id)
		)`,
		`CREATE TABLE IF NOT EXISTS checkouts (
			session_id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			confirmed_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			theme VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_cart_user ON cart (user_id)",
		"CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases (user_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at)",
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// lockCart serializes cart writers for one user until the transaction ends.
func lockCart(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID)
	return err
}

// InsertCartEntry inserts the row when the cart is below limit.
func (s *PostgresStore) InsertCartEntry(ctx context.Context, userID, bundleID string, limit int) (bool, error) {
	var inserted bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockCart(ctx, tx, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO cart (user_id, bundle_id)
			SELECT $1::text, $2::text WHERE (SELECT COUNT(*) FROM cart WHERE user_id = $1) < $3
			ON CONFLICT (user_id, bundle_id) DO NOTHING`, userID, bundleID, limit)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("bundle_id", bundleID).Error("Failed to insert cart entry")
		return false, unavailable("insert cart entry", err)
	}
	return inserted, nil
}

// InsertCartEntries inserts the batch all-or-nothing.
func (s *PostgresStore) InsertCartEntries(ctx context.Context, userID string, bundleIDs []string, limit int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin cart batch", err)
	}
	defer tx.Rollback(ctx)

	if err := lockCart(ctx, tx, userID); err != nil {
		return unavailable("lock cart", err)
	}

	var count int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM cart WHERE user_id = $1", userID).Scan(&count); err != nil {
		return unavailable("count cart", err)
	}
	if count+len(bundleIDs) > limit {
		return fmt.Errorf("%w: %d in cart, %d requested, limit %d", ErrLimitExceeded, count, len(bundleIDs), limit)
	}

	batch := &pgx.Batch{}
	for _, bundleID := range bundleIDs {
		batch.Queue(`
			INSERT INTO cart (user_id, bundle_id) VALUES ($1, $2)
			ON CONFLICT (user_id, bundle_id) DO NOTHING`, userID, bundleID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return unavailable("insert cart batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit cart batch", err)
	}
	return nil
}

// CartContains reports whether the bundle is in the user's cart.
func (s *PostgresStore) CartContains(ctx context.Context, userID, bundleID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM cart WHERE user_id = $1 AND bundle_id = $2)",
		userID, bundleID).Scan(&exists)
	if err != nil {
		return false, unavailable("cart contains", err)
	}
	return exists, nil
}

// CountCart returns the number of cart rows for the user.
func (s *PostgresStore) CountCart(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM cart WHERE user_id = $1", userID).Scan(&count); err != nil {
		return 0, unavailable("count cart", err)
	}
	return count, nil
}

// ListCart returns the user's cart in insertion order.
func (s *PostgresStore) ListCart(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT bundle_id FROM cart WHERE user_id = $1 ORDER BY seq", userID)
	if err != nil {
		return nil, unavailable("list cart", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("list cart", err)
	}
	return ids, nil
}

// ClearCart deletes every cart row for the user.
func (s *PostgresStore) ClearCart(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM cart WHERE user_id = $1", userID); err != nil {
		s.logger.WithError(err).Error("Failed to clear cart")
		return unavailable("clear cart", err)
	}
	return nil
}

// InsertPurchase records ownership; a repeated call is a no-op.
func (s *PostgresStore) InsertPurchase(ctx context.Context, userID, bundleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO purchases (user_id, bundle_id) VALUES ($1, $2)
		ON CONFLICT (user_id, bundle_id) DO NOTHING`, userID, bundleID)
	if err != nil {
		s.logger.WithError(err).WithField("bundle_id", bundleID).Error("Failed to insert purchase")
		return false, unavailable("insert purchase", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasPurchase reports whether the user owns the bundle.
func (s *PostgresStore) HasPurchase(ctx context.Context, userID, bundleID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id = $1 AND bundle_id = $2)",
		userID, bundleID).Scan(&exists)
	if err != nil {
		return false, unavailable("has purchase", err)
	}
	return exists, nil
}

// ListPurchases returns the user's purchases ordered by purchase date.
func (s *PostgresStore) ListPurchases(ctx context.Context, userID string) ([]models.PurchaseEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, bundle_id, purchase_date FROM purchases
		WHERE user_id = $1 ORDER BY purchase_date, bundle_id`, userID)
	if err != nil {
		return nil, unavailable("list purchases", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PurchaseEntry, error) {
		var entry models.PurchaseEntry
		err := row.Scan(&entry.UserID, &entry.BundleID, &entry.PurchasedAt)
		return entry, err
	})
	if err != nil {
		return nil, unavailable("list purchases", err)
	}
	return entries, nil
}

// PromoteCart moves the cart into purchases once per checkout session.
func (s *PostgresStore) PromoteCart(ctx context.Context, userID, sessionID string) (Promotion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Promotion{}, unavailable("begin promotion", err)
	}
	defer tx.Rollback(ctx)

	claim, err := tx.Exec(ctx, `
		INSERT INTO checkouts (session_id, user_id) VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING`, sessionID, userID)
	if err != nil {
		return Promotion{}, unavailable("claim checkout", err)
	}
	if claim.RowsAffected() == 0 {
		return Promotion{AlreadyPromoted: true}, nil
	}

	if err := lockCart(ctx, tx, userID); err != nil {
		return Promotion{}, unavailable("lock cart", err)
	}

	rows, err := tx.Query(ctx, "SELECT bundle_id FROM cart WHERE user_id = $1 ORDER BY seq", userID)
	if err != nil {
		return Promotion{}, unavailable("read cart", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Promotion{}, unavailable("read cart", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchases (user_id, bundle_id)
		SELECT user_id, bundle_id FROM cart WHERE user_id = $1
		ON CONFLICT (user_id, bundle_id) DO NOTHING`, userID); err != nil {
		return Promotion{}, unavailable("promote cart", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM cart WHERE user_id = $1", userID); err != nil {
		return Promotion{}, unavailable("drain cart", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Promotion{}, unavailable("commit promotion", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"bundles":    len(ids),
	}).Info("Promoted cart to purchases")
	return Promotion{BundleIDs: ids}, nil
}

// SaveSession upserts the session row; user_id and created_at never change.
func (s *PostgresStore) SaveSession(ctx context.Context, session *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, theme, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET theme = EXCLUDED.theme, expires_at = EXCLUDED.expires_at`,
		session.ID, session.UserID, session.Theme, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		s.logger.WithError(err).Error("Failed to save session")
		return unavailable("save session", err)
	}
	return nil
}

// GetSession loads a session row; expired rows are returned as stored.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, theme, created_at, expires_at FROM sessions WHERE id = $1`, id).Scan(
		&session.ID, &session.UserID, &session.Theme, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return &session, nil
}

// DeleteSession removes the session row if present.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session that expired before now.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at < $1", now)
	if err != nil {
		return 0, unavailable("delete expired sessions", err)
	}
	return tag.RowsAffected(), nil
}

// CountSessions counts sessions that have not expired at now.
func (s *PostgresStore) CountSessions(ctx context.Context, now time.Time) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE expires_at >= $1", now).Scan(&count); err != nil {
		return 0, unavailable("count sessions", err)
	}
	return count, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
