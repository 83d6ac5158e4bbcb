package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crate/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Theme preferences stored on a session.
const (
	ThemeLight = "light-mode"
	ThemeDark  = "dark-mode"
)

// touchInterval bounds how often an active session's expiry is written back.
const touchInterval = time.Minute

var (
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrSessionNotFound = errors.New("session not found")
)

// Session is an anonymous browser session. UserID keys every ledger row.
type Session = models.Session

// SessionStore persists sessions so identities survive restarts.
// database.Store satisfies it.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session) error
	// GetSession returns nil without error when no row exists.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	CountSessions(ctx context.Context, now time.Time) (int, error)
}

// SessionManager keeps sessions in a SessionStore and writes encoded cookies.
type SessionManager struct {
	store         SessionStore
	duration      time.Duration
	cookieName    string
	secureCookies bool
	codec         *CookieCodec
	logger        *logrus.Logger
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewSessionManager creates a new session manager. Sessions expire after
// duration of inactivity.
func NewSessionManager(store SessionStore, duration time.Duration, cookieName string, secureCookies bool, codec *CookieCodec, logger *logrus.Logger) *SessionManager {
	sm := &SessionManager{
		store:         store,
		duration:      duration,
		cookieName:    cookieName,
		secureCookies: secureCookies,
		codec:         codec,
		logger:        logger,
		now:           time.Now,
		stop:          make(chan struct{}),
	}

	go sm.cleanupExpiredSessions()

	return sm
}

// CreateSession creates a session with a fresh random user ID
func (sm *SessionManager) CreateSession(ctx context.Context, theme string) (*Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	userID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}
	if theme == "" {
		theme = ThemeLight
	}

	now := sm.now()
	session := &Session{
		ID:        sessionID,
		UserID:    userID.String(),
		Theme:     theme,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.duration),
	}

	if err := sm.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the session, or nil when it is missing or expired.
// Expired rows are deleted on sight.
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := sm.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	if sm.now().After(session.ExpiresAt) {
		if err := sm.store.DeleteSession(ctx, sessionID); err != nil {
			sm.logger.WithError(err).Warn("Failed to delete expired session")
		}
		return nil, nil
	}
	return session, nil
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	return sm.store.DeleteSession(ctx, sessionID)
}

// Touch extends the idle expiry. It writes only when the expiry has drifted
// by more than touchInterval and reports whether it did.
func (sm *SessionManager) Touch(ctx context.Context, session *Session) (bool, error) {
	expiresAt := sm.now().Add(sm.duration)
	if expiresAt.Sub(session.ExpiresAt) < touchInterval {
		return false, nil
	}

	session.ExpiresAt = expiresAt
	if err := sm.store.SaveSession(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// SetTheme stores the theme preference on the session
func (sm *SessionManager) SetTheme(ctx context.Context, sessionID, theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}

	session, err := sm.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	session.Theme = theme
	return sm.store.SaveSession(ctx, session)
}

// Count returns the number of unexpired sessions.
func (sm *SessionManager) Count(ctx context.Context) (int, error) {
	return sm.store.CountSessions(ctx, sm.now())
}

// SetSessionCookie sets the encoded session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) error {
	value, err := sm.codec.Encode(session.ID)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}

	cookie := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Expires:  session.ExpiresAt,
		MaxAge:   int(sm.duration.Seconds()),
		HttpOnly: true,
		Secure:   sm.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	}

	http.SetCookie(w, cookie)
	return nil
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	}

	http.SetCookie(w, cookie)
}

// GetSessionFromRequest resolves the request cookie to a live session.
// Cookies that fail to decode are treated as absent.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return nil, nil
	}

	sessionID, ok := sm.codec.Decode(cookie.Value)
	if !ok {
		return nil, nil
	}

	return sm.GetSession(r.Context(), sessionID)
}

// Close stops the cleanup goroutine
func (sm *SessionManager) Close() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

// cleanupExpiredSessions periodically removes expired sessions
func (sm *SessionManager) cleanupExpiredSessions() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			if _, err := sm.purgeExpired(context.Background()); err != nil {
				sm.logger.WithError(err).Warn("Failed to purge expired sessions")
			}
		}
	}
}

func (sm *SessionManager) purgeExpired(ctx context.Context) (int64, error) {
	removed, err := sm.store.DeleteExpiredSessions(ctx, sm.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		sm.logger.WithField("removed", removed).Debug("Purged expired sessions")
	}
	return removed, nil
}

// generateSessionID generates a cryptographically secure session ID
func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
