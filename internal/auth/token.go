// Package auth parses and issues the access tokens shared across the mesh.
// All three organizations sign with the same HS256 secret, which is the one
// credential they share besides the internal API key.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openparcel/custodymesh/internal/custody"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

const tokenIssuer = "custodymesh"

// Claims are the validated contents of an access token.
type Claims struct {
	UserID   string
	Username string
	Role     custody.Role
	IssuedAt time.Time
	ExpireAt time.Time
}

// accessClaims is the wire shape used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ParseAccessToken verifies an HS256 access token and returns its claims.
// A nil now falls back to the wall clock.
func ParseAccessToken(secret []byte, token string, now func() time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeUnauthorized, "access token is required")
	}
	if len(secret) == 0 {
		return Claims{}, errors.New("token verifier is not configured")
	}
	if now == nil {
		now = time.Now
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeUnauthorized, "access token subject is required")
	}
	role := custody.Role(parsed.Role)
	if !role.Valid() {
		return Claims{}, apperrors.New(apperrors.CodeUnauthorized, "access token role is invalid")
	}

	claims := Claims{
		UserID:   parsed.Subject,
		Username: parsed.Username,
		Role:     role,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if parsed.ExpiresAt != nil {
		claims.ExpireAt = parsed.ExpiresAt.Time.UTC()
	}
	return claims, nil
}

// IssueAccessToken signs an HS256 access token for a user. Used by the dev
// stack and tests; production token issuance belongs to each org's own auth
// service.
func IssueAccessToken(secret []byte, userID, username string, role custody.Role, ttl time.Duration, now func() time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token signer is not configured")
	}
	if now == nil {
		now = time.Now
	}
	issued := now().UTC()

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Username: username,
		Role:     string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.New(apperrors.CodeUnauthorized, "access token is expired")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeUnauthorized, "access token signature is invalid")
	}
	return apperrors.New(apperrors.CodeUnauthorized, "access token is invalid")
}
