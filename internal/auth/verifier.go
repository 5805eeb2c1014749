// ABOUTME: Bearer token verification for authenticating websocket upgrades
// ABOUTME: Supports a static shared token and HS256 JWTs with configurable secret

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrMissingToken = errors.New("missing bearer token")
)

// TokenVerifier defines the interface for token verification.
// Verify returns the principal identified by the token.
type TokenVerifier interface {
	Verify(tokenString string) (principalID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the principal ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (principalID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// StaticVerifier implements TokenVerifier with a single shared secret,
// compared in constant time.
type StaticVerifier struct {
	token []byte
}

// NewStaticVerifier creates a verifier for a fixed bearer token
func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: []byte(token)}
}

// Verify checks the presented token against the shared secret
func (v *StaticVerifier) Verify(tokenString string) (string, error) {
	if subtle.ConstantTimeCompare(v.token, []byte(tokenString)) != 1 {
		return "", ErrInvalidToken
	}
	return "local", nil
}

// AllowAll implements TokenVerifier for deployments with auth disabled
// (the reference use case is an IDE-local loopback service).
type AllowAll struct{}

// Verify accepts any token, including none.
func (AllowAll) Verify(string) (string, error) { return "anonymous", nil }

// FromHeader extracts the bearer token from an Authorization header value.
func FromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
	}
	return strings.TrimPrefix(header, prefix), nil
}
