// Package alert records reconciliation problems that need a human: a durable
// row in reconciliation_alerts and an error report in Sentry.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// KindPaymentIntentUnresolved marks a rejected consultation whose payment
// could not be located for refund.
const KindPaymentIntentUnresolved = "payment_intent_unresolved"

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	ID             uuid.UUID  `json:"id"`
	ConsultationID uuid.UUID  `json:"consultation_id"`
	Kind           string     `json:"kind"`
	Detail         string     `json:"detail"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Sink receives raised alerts.
type Sink interface {
	Raise(ctx context.Context, a *Alert) error
}

// Fanout raises an alert on every sink and joins the failures.
type Fanout []Sink

func (f Fanout) Raise(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var errs []error
	for _, s := range f {
		if err := s.Raise(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
