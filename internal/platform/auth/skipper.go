package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication: infrastructure
// endpoints and the login endpoint that hands out credentials.
var publicPaths = map[string]bool{
	"/health":         true,
	"/health/db":      true,
	"/metrics":        true,
	"/api/auth/login": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
