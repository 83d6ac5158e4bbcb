package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"crate/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

// stripeAPI is a minimal stand-in for the checkout sessions endpoints.
type stripeAPI struct {
	mu      sync.Mutex
	created url.Values
	auth    string
}

func (a *stripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.created = r.PostForm
		a.auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"id":                  "cs_test_stripe",
			"object":              "checkout.session",
			"client_secret":       "cs_test_stripe_secret",
			"status":              "open",
			"payment_status":      "unpaid",
			"amount_total":        2000,
			"client_reference_id": r.PostForm.Get("client_reference_id"),
			"metadata":            map[string]string{"bundles": r.PostForm.Get("metadata[bundles]")},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_stripe":
		json.NewEncoder(w).Encode(map[string]any{
			"id":                  "cs_test_stripe",
			"object":              "checkout.session",
			"status":              "complete",
			"payment_status":      "paid",
			"amount_total":        2000,
			"client_reference_id": "u1",
			"metadata":            map[string]string{"bundles": "set13,set14"},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "resource_missing",
				"message": "No such checkout.session",
			},
		})
	}
}

func newTestStripeProcessor(t *testing.T) (*StripeProcessor, *stripeAPI) {
	t.Helper()
	api := &stripeAPI{}
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(ts.URL),
		HTTPClient:        ts.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	backends := &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	return newStripeProcessor("sk_test_crate", backends, logging.Discard()), api
}

func TestStripeProcessorCreateSession(t *testing.T) {
	processor, api := newTestStripeProcessor(t)

	ps, err := processor.CreateSession(context.Background(), &SessionRequest{
		UserID:   "u1",
		Currency: "usd",
		LineItems: []LineItem{
			{BundleID: "set13", Name: "Tracklist #13", UnitAmount: 1000},
			{BundleID: "set14", Name: "Tracklist #14", UnitAmount: 1000},
		},
		ReturnURL: ReturnURL("https://crate.example", 2),
		Metadata:  map[string]string{metadataBundles: "set13,set14"},
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_stripe", ps.ID)
	assert.Equal(t, "cs_test_stripe_secret", ps.ClientSecret)
	assert.Equal(t, StateAwaitingPayment, ps.State())
	assert.Equal(t, int64(2000), ps.AmountTotal)
	assert.Equal(t, "u1", ps.ClientReferenceID)

	form := api.created
	require.NotNil(t, form)
	assert.Equal(t, "Bearer sk_test_crate", api.auth)
	assert.Equal(t, "embedded", form.Get("ui_mode"))
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "card", form.Get("payment_method_types[0]"))
	assert.Equal(t, "u1", form.Get("client_reference_id"))
	assert.Equal(t, "set13,set14", form.Get("metadata[bundles]"))
	assert.Equal(t, "https://crate.example/success?page=2&session_id={CHECKOUT_SESSION_ID}", form.Get("return_url"))

	assert.Equal(t, "1000", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "Tracklist #13", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "Tracklist #14", form.Get("line_items[1][price_data][product_data][name]"))
}

func TestStripeProcessorGetSession(t *testing.T) {
	processor, _ := newTestStripeProcessor(t)

	ps, err := processor.GetSession(context.Background(), "cs_test_stripe")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, ps.State())
	assert.Equal(t, "set13,set14", ps.Metadata[metadataBundles])

	_, err = processor.GetSession(context.Background(), "cs_missing")
	require.Error(t, err)
	var stripeErr *stripe.Error
	require.ErrorAs(t, err, &stripeErr)
	assert.Equal(t, stripe.ErrorCodeResourceMissing, stripeErr.Code)
}
