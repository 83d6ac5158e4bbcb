package checkout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"crate/internal/access"
	"crate/internal/catalog"
	"crate/internal/database"
	"crate/internal/ledger"
	"crate/internal/logging"
	"crate/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor records requests and serves sessions from memory.
type fakeProcessor struct {
	mu       sync.Mutex
	requests []*SessionRequest
	sessions map[string]*ProcessorSession
	err      error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{sessions: make(map[string]*ProcessorSession)}
}

func (f *fakeProcessor) CreateSession(_ context.Context, req *SessionRequest) (*ProcessorSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)

	var total int64
	for _, item := range req.LineItems {
		total += item.UnitAmount
	}
	id := fmt.Sprintf("cs_test_%d", len(f.requests))
	ps := &ProcessorSession{
		ID:                id,
		ClientSecret:      id + "_secret",
		Status:            StatusOpen,
		PaymentStatus:     "unpaid",
		ClientReferenceID: req.UserID,
		AmountTotal:       total,
		Metadata:          req.Metadata,
	}
	f.sessions[id] = ps
	copied := *ps
	return &copied, nil
}

func (f *fakeProcessor) GetSession(_ context.Context, id string) (*ProcessorSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ps, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	copied := *ps
	return &copied, nil
}

func (f *fakeProcessor) pay(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = StatusComplete
	f.sessions[id].PaymentStatus = PaymentStatusPaid
}

func (f *fakeProcessor) expire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = StatusExpired
}

type fixture struct {
	processor    *fakeProcessor
	store        database.Store
	cart         *ledger.Cart
	purchases    *ledger.Purchases
	orchestrator *Orchestrator
}

// newFixture builds set1..set12 priced 0 and set13..set24 priced 10.00.
func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := logging.Discard()

	bundles := make([]models.Bundle, 0, 24)
	for i := 1; i <= 24; i++ {
		price := decimal.Zero
		if i > 12 {
			price = decimal.RequireFromString("10.00")
		}
		bundles = append(bundles, models.Bundle{
			ID:     fmt.Sprintf("set%d", i),
			Name:   fmt.Sprintf("#%d", i),
			Price:  price,
			Tracks: []models.Track{{Name: "t", Artists: []string{"a"}, ReleaseDate: "1990"}},
		})
	}
	cat := catalog.New(bundles, catalog.Options{PageSize: 12})

	store, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "checkout.db"), 5, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	processor := newFakeProcessor()
	cart := ledger.NewCart(store, cat, ledger.DefaultMaxItems, logger)
	return fixture{
		processor:    processor,
		store:        store,
		cart:         cart,
		purchases:    ledger.NewPurchases(store, cat, logger),
		orchestrator: NewOrchestrator(processor, cart, store, "USD", logger),
	}
}

func (f fixture) cartIDs(t *testing.T, userID string) []string {
	t.Helper()
	ids, err := f.store.ListCart(context.Background(), userID)
	require.NoError(t, err)
	return ids
}

func TestCheckoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = "u1"

	require.ErrorIs(t, f.cart.AddToCart(ctx, user, "set1"), ledger.ErrFreeBundleNotCartable)
	require.NoError(t, f.cart.AddToCart(ctx, user, "set13"))
	assert.Equal(t, []string{"set13"}, f.cartIDs(t, user))

	session, err := f.orchestrator.Create(ctx, user, 2, "https://shop.example")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPayment, session.State)
	assert.NotEmpty(t, session.ClientSecret)
	assert.Equal(t, int64(1000), session.AmountTotal)

	require.Len(t, f.processor.requests, 1)
	req := f.processor.requests[0]
	require.Len(t, req.LineItems, 1)
	assert.Equal(t, int64(1000), req.LineItems[0].UnitAmount)
	assert.Equal(t, "Tracklist #13", req.LineItems[0].Name)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, user, req.UserID)
	assert.Equal(t, "https://shop.example/success?page=2&session_id={CHECKOUT_SESSION_ID}", req.ReturnURL)
	assert.Equal(t, "set13", req.Metadata["bundles"])

	f.processor.pay(session.SessionID)
	confirmation, err := f.orchestrator.Confirm(ctx, user, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, confirmation.State)
	assert.False(t, confirmation.AlreadyConfirmed)
	assert.Equal(t, []string{"set13"}, confirmation.BundleIDs)

	owned, err := f.purchases.ListPurchased(ctx, user)
	require.NoError(t, err)
	assert.True(t, owned["set13"])
	assert.Empty(t, f.cartIDs(t, user))
}

func TestCreateEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Create(context.Background(), "u1", 1, "http://localhost:3000")
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.processor.requests)
}

func TestCreateSkipsFreeBundles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Bypass the ledger to plant a free bundle in the cart.
	_, err := f.store.InsertCartEntry(ctx, "u1", "set2", 12)
	require.NoError(t, err)

	_, err = f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.ErrorIs(t, err, ErrEmptyCart)

	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set14"))
	session, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.NoError(t, err)
	assert.Equal(t, []string{"set14"}, session.BundleIDs)
}

func TestCreateRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator.Create(context.Background(), "", 1, "http://localhost:3000")
	require.ErrorIs(t, err, access.ErrUnauthenticated)
}

func TestCreateProcessorFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set13"))

	f.processor.err = errors.New("api down")
	_, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.ErrorIs(t, err, ErrCheckoutFailed)
	assert.Equal(t, []string{"set13"}, f.cartIDs(t, "u1"))
}

func TestConfirmUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set13"))

	session, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.NoError(t, err)

	confirmation, err := f.orchestrator.Confirm(ctx, "u1", session.SessionID)
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, StateAwaitingPayment, confirmation.State)
	assert.Equal(t, []string{"set13"}, f.cartIDs(t, "u1"))

	f.processor.expire(session.SessionID)
	confirmation, err = f.orchestrator.Confirm(ctx, "u1", session.SessionID)
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, StateAbandoned, confirmation.State)

	owned, err := f.purchases.ListPurchased(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set13"))

	session, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.NoError(t, err)
	f.processor.pay(session.SessionID)

	_, err = f.orchestrator.Confirm(ctx, "u1", session.SessionID)
	require.NoError(t, err)

	// A bundle added after confirmation must survive a repeated confirm.
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set15"))

	again, err := f.orchestrator.Confirm(ctx, "u1", session.SessionID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)
	assert.Equal(t, StateConfirmed, again.State)
	assert.Equal(t, []string{"set15"}, f.cartIDs(t, "u1"))

	owned, err := f.purchases.ListPurchased(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"set13": true}, owned)
}

func TestConfirmConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set13"))
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set14"))

	session, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.NoError(t, err)
	f.processor.pay(session.SessionID)

	var wg sync.WaitGroup
	results := make([]*Confirmation, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orchestrator.Confirm(ctx, "u1", session.SessionID)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyConfirmed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Empty(t, f.cartIDs(t, "u1"))
}

func TestConfirmRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "alice", "set13"))
	require.NoError(t, f.cart.AddToCart(ctx, "mallory", "set14"))

	session, err := f.orchestrator.Create(ctx, "alice", 1, "http://localhost:3000")
	require.NoError(t, err)
	f.processor.pay(session.SessionID)

	_, err = f.orchestrator.Confirm(ctx, "mallory", session.SessionID)
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, []string{"set14"}, f.cartIDs(t, "mallory"))

	_, err = f.orchestrator.Confirm(ctx, "alice", session.SessionID)
	require.NoError(t, err)
}

func TestConfirmPromotesCartAtConfirmationTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set13"))

	session, err := f.orchestrator.Create(ctx, "u1", 1, "http://localhost:3000")
	require.NoError(t, err)

	require.NoError(t, f.cart.ClearCart(ctx, "u1"))
	require.NoError(t, f.cart.AddToCart(ctx, "u1", "set20"))
	f.processor.pay(session.SessionID)

	confirmation, err := f.orchestrator.Confirm(ctx, "u1", session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"set20"}, confirmation.BundleIDs)
}

func TestConfirmProcessorFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Confirm(context.Background(), "u1", "cs_missing")
	require.ErrorIs(t, err, ErrCheckoutFailed)

	_, err = f.orchestrator.Confirm(context.Background(), "u1", "")
	require.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, err = f.orchestrator.Confirm(context.Background(), "", "cs_test_1")
	require.ErrorIs(t, err, access.ErrUnauthenticated)
}

func TestProcessorSessionState(t *testing.T) {
	tests := []struct {
		status, payment string
		want            State
	}{
		{StatusOpen, "unpaid", StateAwaitingPayment},
		{StatusComplete, PaymentStatusPaid, StateConfirmed},
		{StatusExpired, "unpaid", StateAbandoned},
		{StatusComplete, "unpaid", StateFailed},
		{"", "", StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.payment, func(t *testing.T) {
			ps := &ProcessorSession{Status: tt.status, PaymentStatus: tt.payment}
			assert.Equal(t, tt.want, ps.State())
		})
	}
}

func TestReturnURL(t *testing.T) {
	assert.Equal(t, "http://x/success?page=1&session_id={CHECKOUT_SESSION_ID}", ReturnURL("http://x/", 0))
	assert.Equal(t, "http://x/success?page=3&session_id={CHECKOUT_SESSION_ID}", ReturnURL("http://x", 3))
}

func TestDisabledProcessor(t *testing.T) {
	_, err := DisabledProcessor{}.CreateSession(context.Background(), &SessionRequest{})
	require.ErrorIs(t, err, ErrProcessorUnavailable)
	_, err = DisabledProcessor{}.GetSession(context.Background(), "cs")
	require.ErrorIs(t, err, ErrProcessorUnavailable)
}
