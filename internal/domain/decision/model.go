package decision

import (
	"errors"
	"strings"

	"github.com/weightcare/portal/internal/domain/consultation"
)

// State names a step of the reconciliation.
type State string

const (
	StateFetched         State = "FETCHED"
	StateSessionResolved State = "SESSION_RESOLVED"
	StatePIResolved      State = "PI_RESOLVED"
	StateRefundAttempted State = "REFUND_ATTEMPTED"
	StateStatusUpdated   State = "STATUS_UPDATED"
	StateNotified        State = "NOTIFIED"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Request is a pharmacist decision on one consultation.
type Request struct {
	ConsultationID string                `json:"consultation_id"`
	Decision       consultation.Decision `json:"decision"`
	Reason         string                `json:"reason,omitempty"`
}

// Result describes a completed reconciliation.
type Result struct {
	Status          consultation.Status       `json:"status"`
	PaymentIntentID string                    `json:"payment_intent_id,omitempty"`
	RefundStatus    consultation.RefundStatus `json:"refund_status,omitempty"`
	Trace           []State                   `json:"-"`
}

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrConflict             = errors.New("decision conflicts with recorded outcome")
	ErrPayment              = errors.New("payment operation failed")
	ErrUpdate               = errors.New("consultation update failed")
)

// Error is a reconciliation failure. Message is client-facing; Kind is one
// of the sentinel errors above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validate(req Request) error {
	if strings.TrimSpace(req.ConsultationID) == "" || req.Decision == "" {
		return &Error{Kind: ErrInvalidRequest, Message: "Missing required fields: consultation_id, decision"}
	}
	if !req.Decision.Valid() {
		return &Error{Kind: ErrInvalidRequest, Message: "Invalid decision: " + string(req.Decision) + " (expected approve or reject)"}
	}
	return nil
}

func notFound(id string) error {
	return &Error{Kind: ErrConsultationNotFound, Message: "Consultation not found: " + id}
}

func paymentError(err error) error {
	return &Error{Kind: ErrPayment, Message: "Stripe operation failed: " + err.Error(), Err: err}
}

func updateError(err error) error {
	return &Error{Kind: ErrUpdate, Message: "Failed to update consultation: " + err.Error(), Err: err}
}
