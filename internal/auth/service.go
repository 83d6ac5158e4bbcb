package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"crate/internal/config"

	"github.com/sirupsen/logrus"
)

// Service binds anonymous sessions to HTTP requests. There are no accounts:
// a session is the identity.
type Service struct {
	sessionManager *SessionManager
	logger         *logrus.Logger
}

// NewService creates the session service on top of store. Without a
// configured secret a random one is generated, so cookies do not survive a
// restart even though the sessions do.
func NewService(cfg config.SessionConfig, store SessionStore, logger *logrus.Logger) (*Service, error) {
	duration, err := time.ParseDuration(cfg.Duration)
	if err != nil {
		return nil, fmt.Errorf("invalid session duration: %w", err)
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		logger.Warn("SESSION_SECRET not set, using an ephemeral signing key")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
	}
	secrets := [][]byte{secret}
	for _, previous := range cfg.PreviousSecrets {
		secrets = append(secrets, []byte(previous))
	}

	codec, err := NewCookieCodec(cfg.CookieName, duration, secrets...)
	if err != nil {
		return nil, err
	}

	return &Service{
		sessionManager: NewSessionManager(store, duration, cfg.CookieName, cfg.SecureCookies, codec, logger),
		logger:         logger,
	}, nil
}

// Current returns the request's session, or nil when there is none. An
// active session has its idle expiry extended and its cookie re-issued so
// the browser's copy expires with it.
func (s *Service) Current(w http.ResponseWriter, r *http.Request) (*Session, error) {
	session, err := s.sessionManager.GetSessionFromRequest(r)
	if err != nil || session == nil {
		return nil, err
	}

	touched, err := s.sessionManager.Touch(r.Context(), session)
	if err != nil {
		return nil, err
	}
	if touched {
		if err := s.sessionManager.SetSessionCookie(w, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// EnsureSession returns the request's session, creating one and setting the
// cookie when none exists.
func (s *Service) EnsureSession(w http.ResponseWriter, r *http.Request) (*Session, error) {
	session, err := s.Current(w, r)
	if err != nil || session != nil {
		return session, err
	}

	session, err = s.sessionManager.CreateSession(r.Context(), "")
	if err != nil {
		return nil, err
	}
	if err := s.sessionManager.SetSessionCookie(w, session); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", session.UserID).Debug("Created anonymous session")
	return session, nil
}

// Login rotates the caller to a brand-new anonymous identity. No credential
// is checked; the theme preference carries over.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) (*Session, error) {
	previous, err := s.sessionManager.GetSessionFromRequest(r)
	if err != nil {
		return nil, err
	}

	theme := ""
	if previous != nil {
		theme = previous.Theme
		if err := s.sessionManager.DeleteSession(r.Context(), previous.ID); err != nil {
			return nil, err
		}
	}

	session, err := s.sessionManager.CreateSession(r.Context(), theme)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.sessionManager.SetSessionCookie(w, session); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", session.UserID).Info("User logged in")
	return session, nil
}

// Logout clears the cookie and destroys the request's session.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) error {
	s.sessionManager.ClearSessionCookie(w)

	session, err := s.sessionManager.GetSessionFromRequest(r)
	if err != nil || session == nil {
		return err
	}
	if err := s.sessionManager.DeleteSession(r.Context(), session.ID); err != nil {
		return err
	}
	s.logger.WithField("user_id", session.UserID).Info("User logged out")
	return nil
}

// SetTheme stores the theme preference for the session.
func (s *Service) SetTheme(ctx context.Context, sessionID, theme string) error {
	return s.sessionManager.SetTheme(ctx, sessionID, theme)
}

// ActiveSessions returns the number of unexpired sessions in the store.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessionManager.Count(ctx)
}

// Close stops background cleanup.
func (s *Service) Close() {
	s.sessionManager.Close()
}
