package identity

import "github.com/google/uuid"

// Patient is the portal's view of an authenticated account.
type Patient struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}
