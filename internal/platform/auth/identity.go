package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role determines which row of the authority matrix applies to a caller.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
	RolePatient   Role = "patient"
)

// Roles lists every role known to the policy matrix.
var Roles = []Role{RoleAdmin, RoleDoctor, RoleSecretary, RolePatient}

// ParseRole validates a role name taken from a credential.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// Identity is the authenticated caller, rebuilt from the credential on every
// request.
type Identity struct {
	SubjectID string    `json:"subjectId"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Principal is an Identity plus, for patients, the id of their own Patient
// record once it has been resolved.
type Principal struct {
	Identity
	PatientID uuid.UUID `json:"patientId,omitempty"`
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores the caller on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller stored by the authentication
// middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
