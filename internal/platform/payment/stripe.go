// Package payment wraps the Stripe API calls needed to unwind a paid
// consultation: reading the checkout session, cancelling the subscription, and
// refunding the payment intent.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var (
	// ErrAlreadyRefunded is returned when the payment intent was refunded by an
	// earlier request.
	ErrAlreadyRefunded = errors.New("payment already refunded")
	// ErrSubscriptionInactive is returned when cancelling a subscription that
	// is already cancelled or no longer exists.
	ErrSubscriptionInactive = errors.New("subscription not active")
)

// CheckoutSession is the subset of a Stripe checkout session the portal uses.
type CheckoutSession struct {
	ID                 string
	Subscription       bool
	PaymentIntentID    string
	SubscriptionID     string
	SubscriptionStatus string
}

// SubscriptionCancellable reports whether the attached subscription still
// bills the patient.
func (s *CheckoutSession) SubscriptionCancellable() bool {
	if s.SubscriptionID == "" {
		return false
	}
	switch stripe.SubscriptionStatus(s.SubscriptionStatus) {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return true
	}
	return false
}

type Refund struct {
	ID     string
	Status string
}

// StripeGateway talks to Stripe with a per-instance client.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway. backends may be nil to use Stripe's
// default endpoints.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, backends)}
}

// GetCheckoutSession retrieves a checkout session with its payment intent and
// subscription expanded.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	params.AddExpand("subscription")

	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}

	out := &CheckoutSession{
		ID:           s.ID,
		Subscription: s.Mode == stripe.CheckoutSessionModeSubscription,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
		out.SubscriptionStatus = string(s.Subscription.Status)
	}
	return out, nil
}

// CancelSubscription cancels immediately. An already cancelled subscription
// yields ErrSubscriptionInactive.
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(id, params); err != nil {
		return classifyCancelError(id, err)
	}
	return nil
}

// LatestInvoicePaymentIntent returns the payment intent of the subscription's
// latest invoice, or "" when there is none.
func (g *StripeGateway) LatestInvoicePaymentIntent(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		return "", nil
	}
	return sub.LatestInvoice.PaymentIntent.ID, nil
}

// Refund refunds a payment intent in full. A repeated refund yields
// ErrAlreadyRefunded.
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) (*Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, classifyRefundError(paymentIntentID, err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func classifyRefundError(pi string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeChargeAlreadyRefunded || strings.Contains(strings.ToLower(se.Msg), "already been refunded") {
			return fmt.Errorf("refund %s: %w", pi, ErrAlreadyRefunded)
		}
	}
	return fmt.Errorf("refund %s: %w", pi, err)
}

func classifyCancelError(id string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := strings.ToLower(se.Msg)
		if se.Code == stripe.ErrorCodeResourceMissing || strings.Contains(msg, "already cancel") || strings.Contains(msg, "canceled subscription") {
			return fmt.Errorf("cancel subscription %s: %w", id, ErrSubscriptionInactive)
		}
	}
	return fmt.Errorf("cancel subscription %s: %w", id, err)
}
