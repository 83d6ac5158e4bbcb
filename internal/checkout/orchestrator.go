// Package checkout turns the priced contents of a cart into a hosted payment
// session and, once the processor reports payment, promotes the cart into
// purchases.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"crate/internal/access"
	"crate/internal/database"
	"crate/internal/ledger"

	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyCart           = errors.New("no paid tracklists in cart")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrCheckoutFailed      = errors.New("checkout failed")
)

// State of a checkout attempt. A request being built is never stored, so
// states start at AwaitingPayment once the processor has opened a session.
type State string

const (
	StateAwaitingPayment State = "awaiting_payment"
	StateConfirmed       State = "confirmed"
	StateFailed          State = "failed"
	StateAbandoned       State = "abandoned"
)

// metadataBundles is the processor metadata key holding the priced bundle IDs.
const metadataBundles = "bundles"

// Session is handed to the client to mount the embedded checkout.
type Session struct {
	SessionID    string
	ClientSecret string
	State        State
	BundleIDs    []string
	AmountTotal  int64
}

// Confirmation is the outcome of Confirm.
type Confirmation struct {
	SessionID string
	State     State
	// BundleIDs were promoted into purchases by this call.
	BundleIDs []string
	// AlreadyConfirmed is set when an earlier call promoted this session.
	AlreadyConfirmed bool
}

// Orchestrator coordinates the cart, the processor and the store.
type Orchestrator struct {
	processor Processor
	cart      *ledger.Cart
	store     database.Store
	currency  string
	logger    *logrus.Logger
}

// NewOrchestrator creates a checkout orchestrator charging in currency.
func NewOrchestrator(processor Processor, cart *ledger.Cart, store database.Store, currency string, logger *logrus.Logger) *Orchestrator {
	if currency == "" {
		currency = "usd"
	}
	return &Orchestrator{
		processor: processor,
		cart:      cart,
		store:     store,
		currency:  strings.ToLower(currency),
		logger:    logger,
	}
}

// ReturnURL builds the URL the processor sends the buyer back to. The
// {CHECKOUT_SESSION_ID} placeholder is filled in by the processor.
func ReturnURL(baseURL string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("%s/success?page=%d&session_id={CHECKOUT_SESSION_ID}", strings.TrimRight(baseURL, "/"), page)
}

// Create opens a processor session for the paid bundles in the user's cart.
func (o *Orchestrator) Create(ctx context.Context, userID string, page int, baseURL string) (*Session, error) {
	if err := access.RequireUser(userID); err != nil {
		return nil, err
	}

	bundles, err := o.cart.ListCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	req := &SessionRequest{
		UserID:    userID,
		Currency:  o.currency,
		ReturnURL: ReturnURL(baseURL, page),
	}
	ids := make([]string, 0, len(bundles))
	var total int64
	for _, b := range bundles {
		// The cart never holds free bundles, but they must never be charged either.
		if b.IsFree() {
			continue
		}
		amount := b.MinorUnits()
		req.LineItems = append(req.LineItems, LineItem{
			BundleID:   b.ID,
			Name:       "Tracklist " + b.Name,
			UnitAmount: amount,
		})
		ids = append(ids, b.ID)
		total += amount
	}
	if len(req.LineItems) == 0 {
		o.logger.WithField("user_id", userID).Warn("Checkout refused: no paid tracklists in cart")
		return nil, ErrEmptyCart
	}
	req.Metadata = map[string]string{metadataBundles: strings.Join(ids, ",")}

	ps, err := o.processor.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	o.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": ps.ID,
		"items":      len(ids),
		"amount":     total,
	}).Info("Created checkout session")

	return &Session{
		SessionID:    ps.ID,
		ClientSecret: ps.ClientSecret,
		State:        StateAwaitingPayment,
		BundleIDs:    ids,
		AmountTotal:  total,
	}, nil
}

// Confirm checks the processor session and, when paid, promotes the user's
// cart into purchases. Each session is promoted at most once; later calls
// succeed with AlreadyConfirmed set and change nothing.
func (o *Orchestrator) Confirm(ctx context.Context, userID, sessionID string) (*Confirmation, error) {
	if err := access.RequireUser(userID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrPaymentNotCompleted)
	}

	ps, err := o.processor.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	log := o.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": ps.ID,
	})

	if ps.ClientReferenceID != "" && ps.ClientReferenceID != userID {
		log.Warn("Checkout session belongs to another user")
		return &Confirmation{SessionID: ps.ID, State: StateFailed}, ErrPaymentNotCompleted
	}

	state := ps.State()
	if state != StateConfirmed {
		log.WithField("state", state).Info("Checkout not paid")
		return &Confirmation{SessionID: ps.ID, State: state}, ErrPaymentNotCompleted
	}

	promotion, err := o.store.PromoteCart(ctx, userID, ps.ID)
	if err != nil {
		return nil, err
	}

	if promotion.AlreadyPromoted {
		log.Debug("Checkout already confirmed")
		return &Confirmation{SessionID: ps.ID, State: StateConfirmed, AlreadyConfirmed: true}, nil
	}

	if priced := ps.Metadata[metadataBundles]; priced != "" && !sameBundles(priced, promotion.BundleIDs) {
		log.WithFields(logrus.Fields{
			"priced":   priced,
			"promoted": strings.Join(promotion.BundleIDs, ","),
		}).Warn("Cart changed between checkout and confirmation")
	}

	log.WithField("bundles", len(promotion.BundleIDs)).Info("Checkout confirmed")
	return &Confirmation{
		SessionID: ps.ID,
		State:     StateConfirmed,
		BundleIDs: promotion.BundleIDs,
	}, nil
}

func sameBundles(priced string, promoted []string) bool {
	a := strings.Split(priced, ",")
	b := slices.Clone(promoted)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
