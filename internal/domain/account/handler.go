package account

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/pkg/response"
)

// ProfileResolver looks up the profile behind an identity.
type ProfileResolver interface {
	Profile(ctx context.Context, id auth.Identity) (interface{}, error)
}

type Handler struct {
	svc      *Service
	profiles ProfileResolver
}

// NewHandler builds the auth handlers. svc may be nil when tokens come from
// an external issuer, in which case login is not served.
func NewHandler(svc *Service, profiles ProfileResolver) *Handler {
	return &Handler{svc: svc, profiles: profiles}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	if h.svc != nil {
		api.POST("/auth/login", h.Login)
	}
	api.GET("/auth/me", h.Me)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.OK(c, "login successful", res)
}

type meResponse struct {
	Identity auth.Identity `json:"identity"`
	Profile  interface{}   `json:"profile,omitempty"`
}

// Me returns the caller's identity and, when one exists, their profile.
func (h *Handler) Me(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	profile, err := h.profiles.Profile(c.Request().Context(), p.Identity)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}
	return response.OK(c, "identity retrieved", meResponse{Identity: p.Identity, Profile: profile})
}
