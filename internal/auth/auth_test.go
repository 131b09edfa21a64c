package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, exp, err := m.GenerateToken("uid-1", "Ana")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.UID)
	assert.Equal(t, "Ana", claims.Name)
}

func TestJWT_RejectsWrongSecretAndExpired(t *testing.T) {
	token, _, err := NewJWTManager("a", time.Hour).GenerateToken("u", "")
	require.NoError(t, err)
	_, err = NewJWTManager("b", time.Hour).VerifyToken(token)
	assert.Error(t, err)

	expired, _, err := NewJWTManager("a", -time.Minute).GenerateToken("u", "")
	require.NoError(t, err)
	_, err = NewJWTManager("a", time.Hour).VerifyToken(expired)
	assert.Error(t, err)
}

func TestJWT_RejectsNoneAlg(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UID: "u"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewJWTManager("a", time.Hour).VerifyToken(s)
	assert.Error(t, err)
}

func TestJWT_RequiresUID(t *testing.T) {
	_, _, err := NewJWTManager("a", time.Hour).GenerateToken("", "x")
	assert.Error(t, err)
}

func TestAccessGate(t *testing.T) {
	open := NewAccessGate(nil)
	assert.True(t, open.Granted("anyone"))

	hash, err := HashAccessCode("circles24")
	require.NoError(t, err)
	g := NewAccessGate([]string{hash})

	assert.False(t, g.Granted("u1"))
	assert.ErrorIs(t, g.Redeem("u1", "wrong"), ErrInvalidAccessCode)
	assert.ErrorIs(t, g.Redeem("u1", "  "), ErrInvalidAccessCode)

	require.NoError(t, g.Redeem("u1", " Circles24 "))
	assert.True(t, g.Granted("u1"))
	assert.False(t, g.Granted("u2"))
}
