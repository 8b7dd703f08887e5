package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"concert-tickets/internal/config"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

var (
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrInvalidWebhook         = errors.New("invalid webhook payload")
)

// LineItem is one checkout line, amount already converted to minor units.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

// PaidOrder is the distilled result of a Stripe webhook delivery: which
// order the processor considers paid.
type PaidOrder struct {
	OrderID         string
	PaymentIntentID string
}

// Stripe wraps the hosted-checkout and webhook surfaces of the gateway.
type Stripe struct {
	client *client.API
	cfg    config.StripeConfig
	appURL string
	log    *logger.Logger
}

func NewStripe(cfg config.StripeConfig, appURL string, log *logger.Logger) (*Stripe, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Stripe{client: sc, cfg: cfg, appURL: appURL, log: log}, nil
}

// CreateCheckoutSession opens a hosted payment page for a pending order and
// returns the redirect URL. The order id rides along in the metadata so the
// webhook can find its way back.
func (s *Stripe) CreateCheckoutSession(order models.Order, lines []LineItem) (string, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, len(lines))
	for i, line := range lines {
		lineItems[i] = &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.cfg.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(line.Name),
					Description: stripe.String(line.Description),
				},
				UnitAmount: stripe.Int64(line.UnitAmount),
			},
			Quantity: stripe.Int64(line.Quantity),
		}
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(fmt.Sprintf("%s/success?orderId=%s", s.appURL, order.ID)),
		CancelURL:          stripe.String(s.appURL + "/"),
		CustomerEmail:      stripe.String(order.CustomerEmail),
	}
	params.AddMetadata("order_id", order.ID)

	session, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", order.ID, err))
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Created checkout session %s for order %s", session.ID, order.ID))
	return session.URL, nil
}

// VerifyWebhook checks the Stripe signature and returns the paid order when
// the event is a completed, paid checkout session. A nil result with a nil
// error means the event is genuine but not ours to act on; the caller ACKs.
func (s *Stripe) VerifyWebhook(payload []byte, sigHeader string) (*PaidOrder, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidWebhook)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.log.Error("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	if event.Type != "checkout.session.completed" {
		s.log.Info("WEBHOOK", fmt.Sprintf("Ignoring event type: %s", event.Type))
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal checkout session: %v", ErrInvalidWebhook, err)
	}

	orderID := session.Metadata["order_id"]
	if orderID == "" {
		return nil, fmt.Errorf("%w: checkout session has no order_id in metadata", ErrInvalidWebhook)
	}

	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.log.Info("WEBHOOK", fmt.Sprintf("Session for order %s not paid yet (%s), acking", orderID, session.PaymentStatus))
		return nil, nil
	}

	paid := &PaidOrder{OrderID: orderID}
	if session.PaymentIntent != nil {
		paid.PaymentIntentID = session.PaymentIntent.ID
	}
	return paid, nil
}
