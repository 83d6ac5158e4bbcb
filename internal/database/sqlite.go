package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crate/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore wraps a *sql.DB backed by mattn/go-sqlite3. It is safe for
// concurrent use; write transactions take the database lock up front
// (_txlock=immediate) so read-then-write sequences cannot interleave.
type SQLiteStore struct {
	conn   *sql.DB
	logger *logrus.Logger

	insertCartStmt     *sql.Stmt
	cartContainsStmt   *sql.Stmt
	countCartStmt      *sql.Stmt
	insertPurchaseStmt *sql.Stmt
	hasPurchaseStmt    *sql.Stmt
	saveSessionStmt    *sql.Stmt
	getSessionStmt     *sql.Stmt
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the ledger tables exist. Caller should Close() it when finished.
func NewSQLiteStore(dbPath string, maxConns int, logger *logrus.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath + "?mode=rwc&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_synchronous=NORMAL"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	s := &SQLiteStore{
		conn:   conn,
		logger: logger,
	}

	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("SQLite store initialized")
	return s, nil
}

// createTables is idempotent. Existing rows are kept across restarts.
func (s *SQLiteStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cart (
			user_id TEXT NOT NULL,
			bundle_id TEXT NOT NULL,
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, bundle_id)
		);`,
		`CREATE TABLE IF NOT EXISTS purchases (
			user_id TEXT NOT NULL,
			bundle_id TEXT NOT NULL,
			purchase_date DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, bundle_id)
		);`,
		`CREATE TABLE IF NOT EXISTS checkouts (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			confirmed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			theme TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_cart_user ON cart(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);",
	}

	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	// The WHERE clause is required for SQLite to parse ON CONFLICT after a SELECT.
	s.insertCartStmt, err = s.conn.Prepare(`
		INSERT INTO cart (user_id, bundle_id)
		SELECT ?, ? WHERE (SELECT COUNT(*) FROM cart WHERE user_id = ?) < ?
		ON CONFLICT(user_id, bundle_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert cart statement: %w", err)
	}

	s.cartContainsStmt, err = s.conn.Prepare(`
		SELECT COUNT(*) FROM cart WHERE user_id = ? AND bundle_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare cart contains statement: %w", err)
	}

	s.countCartStmt, err = s.conn.Prepare(`
		SELECT COUNT(*) FROM cart WHERE user_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare count cart statement: %w", err)
	}

	s.insertPurchaseStmt, err = s.conn.Prepare(`
		INSERT INTO purchases (user_id, bundle_id) VALUES (?, ?)
		ON CONFLICT(user_id, bundle_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert purchase statement: %w", err)
	}

	s.hasPurchaseStmt, err = s.conn.Prepare(`
		SELECT COUNT(*) FROM purchases WHERE user_id = ? AND bundle_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare has purchase statement: %w", err)
	}

	s.saveSessionStmt, err = s.conn.Prepare(`
		INSERT INTO sessions (id, user_id, theme, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET theme = excluded.theme, expires_at = excluded.expires_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare save session statement: %w", err)
	}

	s.getSessionStmt, err = s.conn.Prepare(`
		SELECT id, user_id, theme, created_at, expires_at FROM sessions WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session statement: %w", err)
	}

	return nil
}

// InsertCartEntry inserts the row with a single conditional statement.
func (s *SQLiteStore) InsertCartEntry(ctx context.Context, userID, bundleID string, limit int) (bool, error) {
	result, err := s.insertCartStmt.ExecContext(ctx, userID, bundleID, userID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("bundle_id", bundleID).Error("Failed to insert cart entry")
		return false, unavailable("insert cart entry", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("insert cart entry", err)
	}
	return n > 0, nil
}

// InsertCartEntries checks the limit and inserts the batch under one write lock.
func (s *SQLiteStore) InsertCartEntries(ctx context.Context, userID string, bundleIDs []string, limit int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin cart batch", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM cart WHERE user_id = ?", userID).Scan(&count); err != nil {
		return unavailable("count cart", err)
	}
	if count+len(bundleIDs) > limit {
		return fmt.Errorf("%w: %d in cart, %d requested, limit %d", ErrLimitExceeded, count, len(bundleIDs), limit)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cart (user_id, bundle_id) VALUES (?, ?)
		ON CONFLICT(user_id, bundle_id) DO NOTHING`)
	if err != nil {
		return unavailable("prepare cart batch", err)
	}
	defer stmt.Close()

	for _, bundleID := range bundleIDs {
		if _, err := stmt.ExecContext(ctx, userID, bundleID); err != nil {
			return unavailable("insert cart batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit cart batch", err)
	}
	return nil
}

// CartContains reports whether the bundle is in the user's cart.
func (s *SQLiteStore) CartContains(ctx context.Context, userID, bundleID string) (bool, error) {
	var count int
	if err := s.cartContainsStmt.QueryRowContext(ctx, userID, bundleID).Scan(&count); err != nil {
		return false, unavailable("cart contains", err)
	}
	return count > 0, nil
}

// CountCart returns the number of cart rows for the user.
func (s *SQLiteStore) CountCart(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.countCartStmt.QueryRowContext(ctx, userID).Scan(&count); err != nil {
		return 0, unavailable("count cart", err)
	}
	return count, nil
}

// ListCart returns the user's cart in insertion order.
func (s *SQLiteStore) ListCart(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT bundle_id FROM cart WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, unavailable("list cart", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ClearCart deletes every cart row for the user.
func (s *SQLiteStore) ClearCart(ctx context.Context, userID string) error {
	result, err := s.conn.ExecContext(ctx, "DELETE FROM cart WHERE user_id = ?", userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to clear cart")
		return unavailable("clear cart", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.WithField("rows", n).Debug("Cleared cart")
	}
	return nil
}

// InsertPurchase records ownership; a repeated call is a no-op.
func (s *SQLiteStore) InsertPurchase(ctx context.Context, userID, bundleID string) (bool, error) {
	result, err := s.insertPurchaseStmt.ExecContext(ctx, userID, bundleID)
	if err != nil {
		s.logger.WithError(err).WithField("bundle_id", bundleID).Error("Failed to insert purchase")
		return false, unavailable("insert purchase", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("insert purchase", err)
	}
	return n > 0, nil
}

// HasPurchase reports whether the user owns the bundle.
func (s *SQLiteStore) HasPurchase(ctx context.Context, userID, bundleID string) (bool, error) {
	var count int
	if err := s.hasPurchaseStmt.QueryRowContext(ctx, userID, bundleID).Scan(&count); err != nil {
		return false, unavailable("has purchase", err)
	}
	return count > 0, nil
}

// ListPurchases returns the user's purchases ordered by purchase date.
func (s *SQLiteStore) ListPurchases(ctx context.Context, userID string) ([]models.PurchaseEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT user_id, bundle_id, purchase_date FROM purchases
		WHERE user_id = ? ORDER BY purchase_date, rowid`, userID)
	if err != nil {
		return nil, unavailable("list purchases", err)
	}
	defer rows.Close()

	var entries []models.PurchaseEntry
	for rows.Next() {
		var entry models.PurchaseEntry
		var purchasedAt sql.NullTime
		if err := rows.Scan(&entry.UserID, &entry.BundleID, &purchasedAt); err != nil {
			return nil, unavailable("scan purchase", err)
		}
		if purchasedAt.Valid {
			entry.PurchasedAt = purchasedAt.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list purchases", err)
	}
	return entries, nil
}

// PromoteCart moves the cart into purchases once per checkout session.
func (s *SQLiteStore) PromoteCart(ctx context.Context, userID, sessionID string) (Promotion, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Promotion{}, unavailable("begin promotion", err)
	}
	defer tx.Rollback()

	claim, err := tx.ExecContext(ctx, `
		INSERT INTO checkouts (session_id, user_id) VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`, sessionID, userID)
	if err != nil {
		return Promotion{}, unavailable("claim checkout", err)
	}
	if n, err := claim.RowsAffected(); err != nil {
		return Promotion{}, unavailable("claim checkout", err)
	} else if n == 0 {
		return Promotion{AlreadyPromoted: true}, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT bundle_id FROM cart WHERE user_id = ? ORDER BY rowid", userID)
	if err != nil {
		return Promotion{}, unavailable("read cart", err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return Promotion{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO purchases (user_id, bundle_id)
		SELECT user_id, bundle_id FROM cart WHERE user_id = ?
		ON CONFLICT(user_id, bundle_id) DO NOTHING`, userID); err != nil {
		return Promotion{}, unavailable("promote cart", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart WHERE user_id = ?", userID); err != nil {
		return Promotion{}, unavailable("drain cart", err)
	}

	if err := tx.Commit(); err != nil {
		return Promotion{}, unavailable("commit promotion", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"bundles":    len(ids),
	}).Info("Promoted cart to purchases")
	return Promotion{BundleIDs: ids}, nil
}

// SaveSession upserts the session row; user_id and created_at never change.
// Timestamps are stored as unix milliseconds.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	_, err := s.saveSessionStmt.ExecContext(ctx,
		session.ID, session.UserID, session.Theme,
		session.CreatedAt.UnixMilli(), session.ExpiresAt.UnixMilli())
	if err != nil {
		s.logger.WithError(err).Error("Failed to save session")
		return unavailable("save session", err)
	}
	return nil
}

// GetSession loads a session row; expired rows are returned as stored.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	var createdAt, expiresAt int64
	err := s.getSessionStmt.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.UserID, &session.Theme, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	session.CreatedAt = time.UnixMilli(createdAt)
	session.ExpiresAt = time.UnixMilli(expiresAt)
	return &session, nil
}

// DeleteSession removes the session row if present.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session that expired before now.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now.UnixMilli())
	if err != nil {
		return 0, unavailable("delete expired sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("delete expired sessions", err)
	}
	return n, nil
}

// CountSessions counts sessions that have not expired at now.
func (s *SQLiteStore) CountSessions(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE expires_at >= ?", now.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, unavailable("count sessions", err)
	}
	return count, nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes prepared statements and the underlying connection.
func (s *SQLiteStore) Close() error {
	statements := []*sql.Stmt{
		s.insertCartStmt,
		s.cartContainsStmt,
		s.countCartStmt,
		s.insertPurchaseStmt,
		s.hasPurchaseStmt,
		s.saveSessionStmt,
		s.getSessionStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// scanIDs collects a single-column result set of bundle IDs. Callers close rows.
func scanIDs(rows *sql.Rows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan bundle id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate bundle ids", err)
	}
	return ids, nil
}
