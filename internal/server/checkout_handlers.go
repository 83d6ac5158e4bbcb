package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"crate/internal/auth"
	"crate/internal/checkout"

	"github.com/sirupsen/logrus"
)

// CheckoutResponse carries what the embedded checkout needs to mount.
type CheckoutResponse struct {
	ClientSecret string   `json:"client_secret"`
	SessionID    string   `json:"session_id"`
	Tracklists   []string `json:"tracklists"`
	AmountTotal  int64    `json:"amount_total"`
}

// handleCheckout opens a processor session for the paid tracklists in the cart.
func (ms *StoreServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFrom(r.Context())
	page := pageParam(r)

	session, err := ms.checkout.Create(r.Context(), userID, page, ms.publicBaseURL(r))
	if err != nil {
		ms.respondWithDomainError(w, r, err)
		return
	}

	ms.metrics.RecordCheckoutCreated(session.AmountTotal)
	w.Header().Set("Cache-Control", "private, no-store")
	ms.respondJSON(w, http.StatusOK, CheckoutResponse{
		ClientSecret: session.ClientSecret,
		SessionID:    session.SessionID,
		Tracklists:   session.BundleIDs,
		AmountTotal:  session.AmountTotal,
	})
}

// handleCheckoutSuccess is the processor's return URL. Whatever happens the
// buyer lands back on the page they came from; failures ride along in ?error=.
func (ms *StoreServer) handleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFrom(r.Context())
	page := pageParam(r)
	sessionID := sanitizeInput(r.URL.Query().Get("session_id"))
	target := fmt.Sprintf("/tracks?page=%d", page)

	confirmation, err := ms.checkout.Confirm(r.Context(), userID, sessionID)

	state := string(checkout.StateFailed)
	if confirmation != nil {
		state = string(confirmation.State)
	}
	ms.metrics.RecordCheckoutConfirmation(state)

	log := ms.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
		"state":      state,
	})

	if err != nil {
		_, code, message := classifyError(err)
		if errors.Is(err, checkout.ErrPaymentNotCompleted) {
			log.WithError(err).Warn("Checkout confirmation refused")
		} else {
			log.WithError(err).Error("Checkout confirmation failed")
		}
		w.Header().Set("X-Error-Code", code)
		http.Redirect(w, r, target+"&error="+url.QueryEscape(message), http.StatusSeeOther)
		return
	}

	log.WithField("tracklists", len(confirmation.BundleIDs)).
		WithField("already_confirmed", confirmation.AlreadyConfirmed).
		Info("Checkout success")
	http.Redirect(w, r, target, http.StatusSeeOther)
}
