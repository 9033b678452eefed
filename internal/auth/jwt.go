package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every session token and required on validation, so a
// token minted by another service sharing the secret is still rejected.
const Issuer = "secrets-gateway"

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService signs and validates session tokens.
//
// SESSION TOKEN CONTENTS:
// A session token carries exactly two identifiers: the user ID ("sub") and
// the server-side session ID ("jti"). Nothing else about the user goes in,
// in particular no password hash and no secret. The signature stops
// tampering; the session ID lets the server revoke a token before it expires.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// SessionClaims is the decoded form of a session token.
type SessionClaims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue signs a token for userID bound to sessionID that expires after ttl.
func (s *TokenService) Issue(userID, sessionID string, ttl time.Duration) (string, error) {
	if userID == "" || sessionID == "" {
		return "", errors.New("auth: user id and session id are required")
	}
	now := s.now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string.
//
// Checks: HS256 signature (WithValidMethods blocks "alg: none" style
// confusion), issuer, and a mandatory, unexpired "exp". Expiry is reported
// as ErrTokenExpired, everything else as ErrTokenInvalid.
func (s *TokenService) Validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", ErrTokenInvalid)
	}

	return &SessionClaims{
		UserID:    c.Subject,
		SessionID: c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
