package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// PatientResolver maps a patient identity to the id of its Patient record.
type PatientResolver interface {
	ResolvePatientID(ctx context.Context, id Identity) (uuid.UUID, error)
}

// Authorize returns route middleware that takes the role-level decision for
// (entity, action) before the handler runs. When the caller's rule is
// ownership-scoped it also resolves the caller's Patient record, so that the
// domain service can apply the resource-level check.
func Authorize(enf *Enforcer, resolver PatientResolver, entity Entity, action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			p, ok := PrincipalFromContext(ctx)
			if !ok {
				return apperr.Authentication("authentication required")
			}

			d := enf.Permits(p.Role, entity, action)
			if !d.Allowed {
				enf.observe(entity, action, p.Role, false)
				return apperr.Authorization(d.Reason)
			}

			if d.OwnershipRequired && p.PatientID == uuid.Nil {
				pid, err := resolver.ResolvePatientID(ctx, p.Identity)
				if err != nil {
					return err
				}
				p.PatientID = pid
				c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			}

			return next(c)
		}
	}
}

// MustPrincipal returns the caller from the echo context or an
// authentication error.
func MustPrincipal(c echo.Context) (Principal, error) {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return Principal{}, apperr.Authentication("authentication required")
	}
	return p, nil
}
