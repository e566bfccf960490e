// Package auth keeps the signed-in identity of the client: a locally signed
// session token carrying the user id, persisted in the metadata table.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "notesync"

// Claims identify the account: the subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// tokenSigner issues and checks HS256 session tokens.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (s tokenSigner) sign(userID, email string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", common.ErrInvalidToken)
	}
	now := s.now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email: email,
	}).SignedString(s.secret)
}

// verify maps every rejection to ErrTokenExpired or ErrInvalidToken.
func (s tokenSigner) verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil, claims.Subject == "":
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
