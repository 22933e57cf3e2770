package consultation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusActive        Status = "active"
	StatusRejected      Status = "rejected"
)

// Terminal reports whether a pharmacist decision has been applied.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusRejected
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusActive, StatusRejected:
		return true
	}
	return false
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Outcome is the status a decision moves a consultation to.
func (d Decision) Outcome() Status {
	if d == DecisionApprove {
		return StatusActive
	}
	return StatusRejected
}

// RefundStatus records how the payment was unwound on rejection.
type RefundStatus string

const (
	RefundRefunded        RefundStatus = "refunded"
	RefundAlreadyRefunded RefundStatus = "already_refunded"
	RefundUnresolved      RefundStatus = "unresolved"
)

const ServiceWeightLoss = "weight_loss"

// Consultation maps to the consultations table.
type Consultation struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	ServiceType       string          `db:"service_type" json:"service_type"`
	Status            Status          `db:"status" json:"status"`
	PatientData       json.RawMessage `db:"patient_data" json:"patient_data"`
	Decision          *Decision       `db:"decision" json:"decision,omitempty"`
	DecisionReason    *string         `db:"decision_reason" json:"decision_reason,omitempty"`
	PharmacistNotes   *string         `db:"pharmacist_notes" json:"pharmacist_notes,omitempty"`
	CheckoutSessionID *string         `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string         `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	RefundStatus      *RefundStatus   `db:"refund_status" json:"refund_status,omitempty"`
	RefundID          *string         `db:"refund_id" json:"refund_id,omitempty"`
	ReviewedAt        *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// DecisionUpdate is the set of columns written when a decision is applied.
// Empty PaymentIntentID, RefundStatus, and RefundID leave the stored values
// untouched.
type DecisionUpdate struct {
	Status          Status
	Decision        Decision
	Reason          string
	PaymentIntentID string
	RefundStatus    RefundStatus
	RefundID        string
	ReviewedAt      time.Time
}
