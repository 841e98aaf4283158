// Package auth verifies the access tokens presented in the WebSocket
// upgrade request. Tokens are HS256 JWTs carrying the user ID; the gateway
// only verifies, it never issues tokens to clients (the account service
// does that), but Issue is provided for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong algorithm, expired, or missing the user claim.
var ErrInvalidToken = errors.New("auth: invalid token")

type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Verifier validates access tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the given shared secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a token and returns the user ID it carries.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// Issue signs a token for the given user, valid for ttl.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
