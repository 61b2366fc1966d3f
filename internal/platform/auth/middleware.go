package auth

import (
	"github.com/labstack/echo/v4"
)

// Authenticate verifies the bearer credential on every request that the
// skipper does not exempt and stores the caller on the request context.
// Failures are returned as authentication errors for the HTTP error handler.
func Authenticate(v CredentialVerifier, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			token, err := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			id, err := v.Verify(token)
			if err != nil {
				return err
			}

			ctx := WithPrincipal(c.Request().Context(), Principal{Identity: id})
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("role", string(id.Role))
			c.Set("subject_id", id.SubjectID)

			return next(c)
		}
	}
}
