package server

import (
	"net/http"
	"strconv"

	"crate/internal/access"
	"crate/internal/auth"
	"crate/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CartResponse lists the bundles in the caller's cart.
type CartResponse struct {
	Items    []models.BundleView `json:"items"`
	Count    int                 `json:"count"`
	MaxItems int                 `json:"maxItems"`
	Total    float64             `json:"total"`
}

type tracklistRequest struct {
	TracklistName string `json:"tracklistName"`
}

// readTracklistName decodes and validates {tracklistName}. It writes the
// error response itself and reports whether the handler should continue.
func (ms *StoreServer) readTracklistName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req tracklistRequest
	if err := decodeJSON(r, &req); err != nil {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "body",
			Message: "Invalid JSON",
			Code:    "INVALID_JSON",
		}})
		return "", false
	}

	name := sanitizeInput(req.TracklistName)
	if verr := validateBundleID(name); verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return "", false
	}
	return name, true
}

// handleGetCart returns the caller's cart.
func (ms *StoreServer) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFrom(r.Context())

	bundles, err := ms.cart.ListCart(r.Context(), userID)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	resp := CartResponse{
		Items:    make([]models.BundleView, 0, len(bundles)),
		Count:    len(bundles),
		MaxItems: ms.cart.MaxItems(),
	}
	purchased, err := ms.purchases.ListPurchased(r.Context(), userID)
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}
	total := decimal.Zero
	for _, b := range bundles {
		resp.Items = append(resp.Items, access.ViewBundle(b, access.Viewer{UserID: userID, Purchased: purchased[b.ID]}))
		total = total.Add(b.Price)
	}
	resp.Total, _ = total.Float64()

	ms.respondJSON(w, http.StatusOK, resp)
}

// handleAddToCart puts one paid tracklist in the cart.
func (ms *StoreServer) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	name, ok := ms.readTracklistName(w, r)
	if !ok {
		ms.metrics.RecordCartOperation("add", codeInvalidRequest)
		return
	}

	userID := auth.UserIDFrom(r.Context())
	if err := ms.cart.AddToCart(r.Context(), userID, name); err != nil {
		code := ms.respondWithDomainError(w, r, err)
		ms.metrics.RecordCartOperation("add", code)
		return
	}

	ms.metrics.RecordCartOperation("add", "ok")
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"tracklistName": name,
	})
}

// handleAddAllToCart adds every paid tracklist on a page, or none.
func (ms *StoreServer) handleAddAllToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		ms.metrics.RecordCartOperation("add_all", codeInvalidRequest)
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "body",
			Message: "Invalid JSON",
			Code:    "INVALID_JSON",
		}})
		return
	}

	page := req.Page
	if page == 0 {
		page = pageParam(r)
	}
	if _, verr := validatePage(strconv.Itoa(page)); verr != nil {
		ms.metrics.RecordCartOperation("add_all", codeInvalidRequest)
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	userID := auth.UserIDFrom(r.Context())
	added, err := ms.cart.AddAllToCart(r.Context(), userID, page)
	if err != nil {
		code := ms.respondWithDomainError(w, r, err)
		ms.metrics.RecordCartOperation("add_all", code)
		return
	}

	ms.metrics.RecordCartOperation("add_all", "ok")
	ms.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"page":    page,
		"added":   len(added),
	}).Info("Added page to cart")

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"page":    page,
		"added":   added,
	})
}

// handleClearCart empties the cart.
func (ms *StoreServer) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := ms.cart.ClearCart(r.Context(), auth.UserIDFrom(r.Context())); err != nil {
		code := ms.respondWithDomainError(w, r, err)
		ms.metrics.RecordCartOperation("clear", code)
		return
	}

	ms.metrics.RecordCartOperation("clear", "ok")
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handlePurchase unlocks a free tracklist. Paid ones go through /checkout.
func (ms *StoreServer) handlePurchase(w http.ResponseWriter, r *http.Request) {
	name, ok := ms.readTracklistName(w, r)
	if !ok {
		return
	}

	if err := ms.purchases.Unlock(r.Context(), auth.UserIDFrom(r.Context()), name); err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	ms.metrics.RecordUnlock()
	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"tracklistName": name,
	})
}
