package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the provided session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// SessionClaims mirrors the JWT payload issued by the commerce backend. The
// customer id lives under a nested data object, matching the backend's token
// shape.
type SessionClaims struct {
	jwt.RegisteredClaims

	Data struct {
		CustomerID string `json:"customer_id"`
		Email      string `json:"user_email"`
	} `json:"data"`
}

// SessionVerifier validates commerce session tokens signed with a shared secret.
type SessionVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewSessionVerifier builds a verifier for HS256 session tokens. The issuer is
// optional; when set, tokens from other issuers are rejected.
func NewSessionVerifier(secret, issuer string) (*SessionVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: session secret is required")
	}
	return &SessionVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify parses and validates the token, returning its claims.
func (v *SessionVerifier) Verify(tokenStr string) (*SessionClaims, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}

	claims := &SessionClaims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}

	return claims, nil
}
