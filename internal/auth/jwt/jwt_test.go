package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTService_GenerateAndValidate(t *testing.T) {
	s, err := NewService(Config{SecretKey: testSecret, Duration: time.Hour})
	require.NoError(t, err)

	tok, err := s.GenerateToken("agent-7", "agent")
	assert.NoError(t, err)
	claims, err := s.ValidateToken(tok)
	assert.NoError(t, err)
	if assert.NotNil(t, claims) {
		assert.Equal(t, "agent-7", claims.UserID)
		assert.Equal(t, "agent", claims.Role)
	}
}

func TestJWTService_ConfigValidation(t *testing.T) {
	_, err := NewService(Config{SecretKey: "", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)

	_, err = NewService(Config{SecretKey: "short", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrWeakSecretKey)

	_, err = NewService(Config{SecretKey: testSecret, Duration: 0})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestJWTService_ExpiredAndInvalid(t *testing.T) {
	s, err := NewService(Config{SecretKey: testSecret, Duration: time.Nanosecond})
	require.NoError(t, err)

	tok, err := s.GenerateToken("agent-7", "agent")
	assert.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	claims, err := s.ValidateToken(tok)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrExpiredToken)

	claims, err = s.ValidateToken("not-a-token")
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	a, err := NewService(Config{SecretKey: testSecret, Duration: time.Hour})
	require.NoError(t, err)
	b, err := NewService(Config{SecretKey: "ffffffffffffffffffffffffffffffff", Duration: time.Hour})
	require.NoError(t, err)

	tok, err := a.GenerateToken("agent-7", "agent")
	require.NoError(t, err)

	claims, err := b.ValidateToken(tok)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
