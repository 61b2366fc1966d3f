package identity

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the person record behind an account. Profiles are owned by the
// account subsystem and are read-only to the clinic workflow.
type Profile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	Email     string    `db:"email" json:"email"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type Patient struct {
	Profile
}

type Doctor struct {
	Profile
}

type Secretary struct {
	Profile
}
