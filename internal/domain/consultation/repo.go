package consultation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("consultation not found")

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status    Status
	PatientID *uuid.UUID
}

// Repository defines the persistence interface for consultations.
type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error)
	ApplyDecision(ctx context.Context, id uuid.UUID, u *DecisionUpdate) error
}
