package client

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MintToken issues a short-lived HS256 access token for a simulated user.
// The secret must match the gateway's JWT_SECRET, and the user must already
// exist in the gateway's database (load test users are seeded beforehand).
func MintToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
