package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/weightcare/portal/internal/domain/triage"
)

// IneligibleError is returned by Intake when the triage flow terminates.
type IneligibleError struct {
	Message string
}

func (e *IneligibleError) Error() string { return e.Message }

// IntakeRequest carries a completed questionnaire and the checkout that paid
// for the consultation.
type IntakeRequest struct {
	PatientID         uuid.UUID
	Answers           map[string]json.RawMessage
	CheckoutSessionID string
	PaymentIntentID   string
}

type Service struct {
	repo   Repository
	engine *triage.Engine
}

func NewService(repo Repository, engine *triage.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// Intake replays the answers through the triage engine and, when the patient
// is eligible, stores a pending_review consultation carrying the clinical
// payload.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*Consultation, error) {
	if req.PatientID == uuid.Nil {
		return nil, errors.New("patient_id is required")
	}
	if strings.TrimSpace(req.CheckoutSessionID) == "" {
		return nil, errors.New("checkout_session_id is required")
	}

	answers, err := triage.DecodeAnswers(s.engine.Schema(), req.Answers)
	if err != nil {
		return nil, err
	}
	_, tr, err := s.engine.Evaluate(answers)
	if err != nil {
		return nil, err
	}
	switch tr.Kind {
	case triage.TransitionTerminate:
		return nil, &IneligibleError{Message: tr.Message}
	case triage.TransitionComplete:
	default:
		return nil, fmt.Errorf("questionnaire incomplete at step %d", tr.Step)
	}

	payload, err := json.Marshal(tr.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode clinical payload: %w", err)
	}

	c := &Consultation{
		PatientID:         req.PatientID,
		ServiceType:       ServiceWeightLoss,
		Status:            StatusPendingReview,
		PatientData:       payload,
		CheckoutSessionID: &req.CheckoutSessionID,
	}
	if req.PaymentIntentID != "" {
		c.PaymentIntentID = &req.PaymentIntentID
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// ApplyDecision writes a pharmacist decision.
func (s *Service) ApplyDecision(ctx context.Context, id uuid.UUID, u *DecisionUpdate) error {
	return s.repo.ApplyDecision(ctx, id, u)
}
