package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Issue("user-1", time.Minute)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := NewVerifier([]byte("secret-a"))
	verifier := NewVerifier([]byte("secret-b"))

	token, err := issuer.Issue("user-1", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingUserClaim(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = NewVerifier(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsUnsignedAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier([]byte("test-secret")).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := NewVerifier([]byte("test-secret")).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
