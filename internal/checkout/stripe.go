package checkout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeProcessor opens embedded-mode card checkout sessions on Stripe.
type StripeProcessor struct {
	api    *client.API
	logger *logrus.Logger
}

// NewStripeProcessor creates a processor authenticated with secretKey.
func NewStripeProcessor(secretKey string, logger *logrus.Logger) *StripeProcessor {
	return newStripeProcessor(secretKey, nil, logger)
}

// newStripeProcessor uses backends instead of the default Stripe endpoints
// when non-nil.
func newStripeProcessor(secretKey string, backends *stripe.Backends, logger *logrus.Logger) *StripeProcessor {
	return &StripeProcessor{
		api:    client.New(secretKey, backends),
		logger: logger,
	}
}

// CreateSession opens a one-off payment session priced in minor units.
func (p *StripeProcessor) CreateSession(ctx context.Context, req *SessionRequest) (*ProcessorSession, error) {
	params := &stripe.CheckoutSessionParams{
		UIMode:             stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ReturnURL:          stripe.String(req.ReturnURL),
		ClientReferenceID:  stripe.String(req.UserID),
	}
	params.Context = ctx

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(1),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		p.logStripeError("create", err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return fromStripe(s), nil
}

// GetSession retrieves the current status of a session.
func (p *StripeProcessor) GetSession(ctx context.Context, id string) (*ProcessorSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		p.logStripeError("retrieve", err)
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return fromStripe(s), nil
}

func (p *StripeProcessor) logStripeError(op string, err error) {
	fields := logrus.Fields{"operation": op}
	if stripeErr, ok := err.(*stripe.Error); ok {
		fields["code"] = stripeErr.Code
		fields["type"] = stripeErr.Type
		fields["request_id"] = stripeErr.RequestID
	}
	p.logger.WithError(err).WithFields(fields).Error("Stripe API call failed")
}

func fromStripe(s *stripe.CheckoutSession) *ProcessorSession {
	return &ProcessorSession{
		ID:                s.ID,
		ClientSecret:      s.ClientSecret,
		Status:            string(s.Status),
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Metadata:          s.Metadata,
	}
}
