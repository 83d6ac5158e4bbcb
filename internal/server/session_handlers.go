package server

import (
	"errors"
	"net/http"

	"crate/internal/access"
	"crate/internal/auth"

	"github.com/sirupsen/logrus"
)

const defaultRedirect = "/tracks?page=1"

// handleLogin rotates the caller to a fresh anonymous identity and sends
// them on to a local page.
func (ms *StoreServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	session, err := ms.sessions.Login(w, r)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	target := safeRedirect(r.URL.Query().Get("redirect"), defaultRedirect)
	ms.logger.WithFields(logrus.Fields{
		"user_id":  session.UserID,
		"redirect": target,
	}).Debug("Login redirect")

	w.Header().Set("Cache-Control", "private, no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogout destroys the session and clears the cookie.
func (ms *StoreServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := ms.sessions.Logout(w, r); err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

// handleSetTheme stores the light/dark preference on the session.
func (ms *StoreServer) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		ms.respondWithDomainError(w, r, access.ErrUnauthenticated)
		return
	}

	var req struct {
		Theme string `json:"theme"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "body",
			Message: "Invalid JSON",
			Code:    "INVALID_JSON",
		}})
		return
	}

	theme := sanitizeInput(req.Theme)
	err := ms.sessions.SetTheme(r.Context(), session.ID, theme)
	if errors.Is(err, auth.ErrSessionNotFound) {
		ms.respondWithDomainError(w, r, access.ErrUnauthenticated)
		return
	}
	if err != nil && !errors.Is(err, auth.ErrInvalidTheme) {
		ms.respondWithDomainError(w, r, err)
		return
	}
	if err != nil {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "theme",
			Message: "Theme must be " + auth.ThemeLight + " or " + auth.ThemeDark,
			Code:    "INVALID_THEME",
		}})
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"theme":   theme,
	})
}
