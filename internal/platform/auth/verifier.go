package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// Claims is the JWT payload carried by clinic credentials.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// VerifierConfig configures credential verification. Exactly one of
// SigningKey (HS256) or PublicKey (RS256) must be set.
type VerifierConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	PublicKey  *rsa.PublicKey
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// CredentialVerifier turns an opaque bearer string into an Identity.
type CredentialVerifier interface {
	Verify(token string) (Identity, error)
}

// Verifier validates JWT bearer credentials. It holds only immutable key
// material and parser options and is safe for concurrent use.
type Verifier struct {
	keyFunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	var (
		keyFunc jwt.Keyfunc
		method  string
	)
	switch {
	case len(cfg.SigningKey) > 0 && cfg.PublicKey != nil:
		return nil, fmt.Errorf("signing key and public key are mutually exclusive")
	case len(cfg.SigningKey) > 0:
		key := cfg.SigningKey
		method = jwt.SigningMethodHS256.Alg()
		keyFunc = func(*jwt.Token) (interface{}, error) { return key, nil }
	case cfg.PublicKey != nil:
		key := cfg.PublicKey
		method = jwt.SigningMethodRS256.Alg()
		keyFunc = func(*jwt.Token) (interface{}, error) { return key, nil }
	default:
		return nil, fmt.Errorf("no verification key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Verifier{keyFunc: keyFunc, opts: opts}, nil
}

// Verify validates the token and returns the caller identity. Every failure
// is an authentication error.
func (v *Verifier) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, apperr.Authentication("missing credential")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Wrap(apperr.KindAuthentication, "credential expired", err)
		}
		return Identity{}, apperr.Wrap(apperr.KindAuthentication, "invalid credential", err)
	}
	if !parsed.Valid {
		return Identity{}, apperr.Authentication("invalid credential")
	}
	if claims.Subject == "" {
		return Identity{}, apperr.Authentication("credential has no subject")
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, apperr.Authentication("credential has an unknown role")
	}

	id := Identity{SubjectID: claims.Subject, Role: role}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.Authentication("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Authentication("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// LoadRSAPublicKey reads a PEM encoded RSA public key for RS256 verification.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, nil
}
