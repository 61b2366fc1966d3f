// Package account authenticates email/password logins and issues bearer
// tokens for them.
package account

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
)

const invalidCredentials = "invalid email or password"

// TokenIssuer signs tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(subject string, role auth.Role) (string, time.Time, error)
}

type Service struct {
	accounts Repository
	issuer   TokenIssuer
	logger   zerolog.Logger
}

func NewService(accounts Repository, issuer TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{accounts: accounts, issuer: issuer, logger: logger}
}

// Login checks the password and returns a signed token. An unknown email and
// a wrong password fail with the same authentication error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		CheckPassword(req.Password, decoyHash())
		return nil, apperr.Authentication(invalidCredentials)
	}
	if !CheckPassword(req.Password, a.PasswordHash) {
		return nil, apperr.Authentication(invalidCredentials)
	}

	role, ok := auth.ParseRole(a.Role)
	if !ok {
		s.logger.Warn().Str("account_id", a.ID.String()).Str("role", a.Role).Msg("account has an unknown role")
		return nil, apperr.Authentication(invalidCredentials)
	}

	token, exp, err := s.issuer.Issue(a.ID.String(), role)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &LoginResult{Token: token, TokenType: "Bearer", ExpiresAt: exp, Role: string(role)}, nil
}
