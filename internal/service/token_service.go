package service

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
)

// Claims carries the subset of the access-token payload this service reads.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService validates access tokens minted by the account service. This
// service only verifies; it never issues tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService constructs a validator over the shared HMAC secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Validate parses and verifies a bearer token, returning its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return nil, appErrors.ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	return claims, nil
}
