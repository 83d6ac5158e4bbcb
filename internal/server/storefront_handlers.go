package server

import (
	"fmt"
	"net/http"
	"sort"

	"crate/internal/access"
	"crate/internal/auth"
	"crate/pkg/models"
)

// PageResponse is one catalog page as seen by the caller.
type PageResponse struct {
	Page       int                 `json:"page"`
	TotalPages int                 `json:"totalPages"`
	PageTitle  string              `json:"pageTitle,omitempty"`
	Theme      string              `json:"theme,omitempty"`
	Tracklists []models.BundleView `json:"tracklists"`
	Purchased  []string            `json:"purchased"`
}

// houseTitle names a page the way the storefront labels them: "1st House", "2nd House", ...
func houseTitle(page int) string {
	suffix := "th"
	if page%100 < 11 || page%100 > 13 {
		switch page % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s House", page, suffix)
}

func themeOf(session *auth.Session) string {
	if session == nil || session.Theme == "" {
		return auth.ThemeLight
	}
	return session.Theme
}

// handleHome ensures the caller has an anonymous identity and returns the
// storefront settings.
func (ms *StoreServer) handleHome(w http.ResponseWriter, r *http.Request) {
	session, err := ms.sessions.EnsureSession(w, r)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"theme":   themeOf(session),
		"config":  ms.publicConfig(),
	})
}

// buildPage projects a catalog page for userID, which may be empty.
func (ms *StoreServer) buildPage(r *http.Request, userID string, page int) (*PageResponse, error) {
	purchased, err := ms.purchases.ListPurchased(r.Context(), userID)
	if err != nil {
		return nil, err
	}

	owned := make([]string, 0, len(purchased))
	for id := range purchased {
		owned = append(owned, id)
	}
	sort.Strings(owned)

	return &PageResponse{
		Page:       page,
		TotalPages: ms.catalog.TotalPages(),
		Tracklists: access.ViewBundles(ms.catalog.Page(page), userID, purchased),
		Purchased:  owned,
	}, nil
}

// handleListPage serves a filtered catalog page. Anonymous callers see
// prices and derived fields but no track names.
func (ms *StoreServer) handleListPage(w http.ResponseWriter, r *http.Request) {
	page, verr := validatePage(r.URL.Query().Get("page"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	resp, err := ms.buildPage(r, auth.UserIDFrom(r.Context()), page)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}
	ms.respondJSON(w, http.StatusOK, resp)
}

// handleTracks is the signed-in storefront page.
func (ms *StoreServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, no-store")

	page := pageParam(r)
	resp, err := ms.buildPage(r, auth.UserIDFrom(r.Context()), page)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	session, _ := sessionFrom(r.Context())
	resp.PageTitle = houseTitle(page)
	resp.Theme = themeOf(session)

	ms.logger.WithField("page", page).WithField("tracklists", len(resp.Tracklists)).Debug("Rendering tracks page")
	ms.respondJSON(w, http.StatusOK, resp)
}

// handleTOC sends signed-in users to the first page.
func (ms *StoreServer) handleTOC(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, defaultRedirect, http.StatusFound)
}
