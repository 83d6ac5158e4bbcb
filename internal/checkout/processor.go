package checkout

import (
	"context"
	"errors"
)

// ErrProcessorUnavailable is returned by DisabledProcessor.
var ErrProcessorUnavailable = errors.New("payment processor not configured")

// LineItem is one priced bundle on a checkout session.
type LineItem struct {
	BundleID string
	Name     string
	// UnitAmount is the price in minor currency units.
	UnitAmount int64
}

// SessionRequest describes a checkout session to open with the processor.
type SessionRequest struct {
	UserID    string
	Currency  string
	LineItems []LineItem
	ReturnURL string
	Metadata  map[string]string
}

// ProcessorSession is the processor's view of a checkout session.
type ProcessorSession struct {
	ID                string
	ClientSecret      string
	Status            string
	PaymentStatus     string
	ClientReferenceID string
	AmountTotal       int64
	Metadata          map[string]string
}

// Processor status values understood by State.
const (
	StatusOpen     = "open"
	StatusComplete = "complete"
	StatusExpired  = "expired"

	PaymentStatusPaid = "paid"
)

// State maps the processor status onto the checkout state machine.
func (s *ProcessorSession) State() State {
	switch {
	case s.PaymentStatus == PaymentStatusPaid:
		return StateConfirmed
	case s.Status == StatusOpen:
		return StateAwaitingPayment
	case s.Status == StatusExpired:
		return StateAbandoned
	default:
		return StateFailed
	}
}

// Processor opens and inspects hosted checkout sessions.
type Processor interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*ProcessorSession, error)
	GetSession(ctx context.Context, id string) (*ProcessorSession, error)
}

// DisabledProcessor rejects every call; used when no API key is configured.
type DisabledProcessor struct{}

func (DisabledProcessor) CreateSession(context.Context, *SessionRequest) (*ProcessorSession, error) {
	return nil, ErrProcessorUnavailable
}

func (DisabledProcessor) GetSession(context.Context, string) (*ProcessorSession, error) {
	return nil, ErrProcessorUnavailable
}
