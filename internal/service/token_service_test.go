package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenServiceValidate(t *testing.T) {
	svc := NewTokenService("secret")
	raw := signTestToken(t, "secret", &Claims{
		UserID: "user-1",
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenServiceRejectsBadSignature(t *testing.T) {
	svc := NewTokenService("secret")
	raw := signTestToken(t, "other-secret", &Claims{UserID: "user-1"})

	_, err := svc.Validate(raw)
	assert.Error(t, err)
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	svc := NewTokenService("secret")
	raw := signTestToken(t, "secret", &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := svc.Validate(raw)
	assert.Error(t, err)
}

func TestTokenServiceRejectsEmpty(t *testing.T) {
	svc := NewTokenService("secret")
	_, err := svc.Validate("   ")
	assert.Error(t, err)
}
