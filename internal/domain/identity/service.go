package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients}
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// EmailFor returns the contact address for a patient. A patient without an
// email on file is an error.
func (s *Service) EmailFor(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Email == "" {
		return "", fmt.Errorf("patient %s has no email on file", id)
	}
	return p.Email, nil
}
