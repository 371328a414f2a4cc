// Package auth is the messaging core's client of the identity provider:
// it validates signed bearer tokens into a user id and role. Issuing
// tokens is the identity provider's business, not ours.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

// Claims mirrors the token payload the identity provider signs: the user
// id and role ride alongside the registered claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256-signed bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared signing secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify resolves a token to an identity. Any parse, signature, expiry or
// claim failure collapses to ErrAuthenticationFailed; callers get no
// detail to leak.
func (v *Verifier) Verify(tokenStr string) (*types.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, interfaces.ErrAuthenticationFailed
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, interfaces.ErrAuthenticationFailed
	}

	role, err := types.ParseRole(claims.Role)
	if err != nil {
		return nil, interfaces.ErrAuthenticationFailed
	}

	return &types.Identity{UserID: claims.Subject, Role: role}, nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", interfaces.ErrAuthenticationFailed
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", interfaces.ErrAuthenticationFailed
	}
	return parts[1], nil
}

var _ interfaces.TokenVerifier = (*Verifier)(nil)
