package email

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mediaguard/internal/config"
)

// ErrInvalidToken reports a token that is malformed, expired, signed for a
// different flow, or issued before the account's current token time.
var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Email string  `json:"email"`
	TS    float64 `json:"ts"`
	jwt.RegisteredClaims
}

// Signer issues and verifies per-kind tokens.
type Signer struct {
	secrets map[Kind][]byte
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner builds a signer from the email config. All three secrets are
// required.
func NewSigner(cfg config.Email) (*Signer, error) {
	secrets := map[Kind][]byte{
		KindVerification:  []byte(strings.TrimSpace(cfg.VerificationSecret)),
		KindPasswordReset: []byte(strings.TrimSpace(cfg.PasswordSecret)),
		KindDeleteAccount: []byte(strings.TrimSpace(cfg.DeleteSecret)),
	}
	for kind, secret := range secrets {
		if len(secret) == 0 {
			return nil, fmt.Errorf("email: %s secret is required", kind)
		}
	}
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{secrets: secrets, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for addr bound to the account's token issue time.
func (s *Signer) Issue(kind Kind, addr string, issuedAt time.Time) (string, error) {
	secret, ok := s.secrets[kind]
	if !ok {
		return "", fmt.Errorf("email: no secret for %q", kind)
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: addr,
		TS:    float64(issuedAt.UnixMicro()) / 1e6,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(kind),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(secret)
}

// Verify checks a token of the given kind and returns its address. current
// is the account's token issue time; a token minted for an earlier issue
// time is rejected, which is what invalidates links after use.
func (s *Signer) Verify(kind Kind, raw string, current time.Time) (string, error) {
	secret, ok := s.secrets[kind]
	if !ok {
		return "", fmt.Errorf("email: no secret for %q", kind)
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithSubject(string(kind)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if current.IsZero() || math.Abs(float64(current.UnixMicro())/1e6-c.TS) > 1 {
		return "", fmt.Errorf("%w: superseded", ErrInvalidToken)
	}
	return c.Email, nil
}
