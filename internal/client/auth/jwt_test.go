package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(secret string, ttl time.Duration, at time.Time) tokenSigner {
	return tokenSigner{secret: []byte(secret), ttl: ttl, now: func() time.Time { return at }}
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", time.Hour, at)

	tok, err := s.sign("user-123", "ann@example.com")
	require.NoError(t, err)

	claims, err := s.verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "ann@example.com", claims.Email)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.True(t, at.Add(time.Hour).Equal(claims.ExpiresAt.Time))
}

func TestTokenSigner_Expiry(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	tok, err := fixedSigner("secret", time.Hour, at).sign("u1", "")
	require.NoError(t, err)

	_, err = fixedSigner("secret", time.Hour, at.Add(59*time.Minute)).verify(tok)
	assert.NoError(t, err)

	_, err = fixedSigner("secret", time.Hour, at.Add(61*time.Minute)).verify(tok)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestTokenSigner_Rejects(t *testing.T) {
	now := time.Now()
	s := fixedSigner("right", time.Hour, now)
	forge := func(m jwt.SigningMethod, key string, c jwt.Claims) string {
		tok, err := jwt.NewWithClaims(m, c).SignedString([]byte(key))
		require.NoError(t, err)
		return tok
	}
	valid := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", forge(jwt.SigningMethodHS256, "wrong", valid)},
		{"other algorithm", forge(jwt.SigningMethodHS512, "right", valid)},
		{"foreign issuer", forge(jwt.SigningMethodHS256, "right", jwt.RegisteredClaims{
			Issuer: "someone-else", Subject: "u1", ExpiresAt: valid.ExpiresAt,
		})},
		{"no expiry", forge(jwt.SigningMethodHS256, "right", jwt.RegisteredClaims{
			Issuer: tokenIssuer, Subject: "u1",
		})},
		{"no subject", forge(jwt.SigningMethodHS256, "right", jwt.RegisteredClaims{
			Issuer: tokenIssuer, ExpiresAt: valid.ExpiresAt,
		})},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.verify(tt.token)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}
}

func TestTokenSigner_RequiresUser(t *testing.T) {
	_, err := fixedSigner("s", time.Hour, time.Now()).sign("", "ann@example.com")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
