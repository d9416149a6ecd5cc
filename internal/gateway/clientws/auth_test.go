package clientws

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManagerTokens struct {
	valid map[string]bool
}

func (f *fakeManagerTokens) ValidateManagerToken(token string) bool {
	return f.valid[token]
}

func TestValidateJWTRoundTrip(t *testing.T) {
	v := NewTokenValidator("test-secret", nil)

	token, err := v.IssueToken("alice", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	username, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenValidator("secret-a", nil)
	token, err := issuer.IssueToken("alice", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	v := NewTokenValidator("secret-b", nil)
	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewTokenValidator("test-secret", nil)
	token, err := v.IssueToken("alice", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsTokenWithoutUsername(t *testing.T) {
	v := NewTokenValidator("test-secret", nil)
	token, err := v.IssueToken("", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestValidateManagerToken(t *testing.T) {
	manager := &fakeManagerTokens{valid: map[string]bool{"abcdef0123456789": true}}
	v := NewTokenValidator("test-secret", manager)

	username, err := v.Validate("abcdef0123456789")
	require.NoError(t, err)
	assert.Equal(t, ManagerUsername, username)

	_, err = v.Validate("0000000000000000")
	assert.Error(t, err)
}

func TestValidateEmptyToken(t *testing.T) {
	v := NewTokenValidator("test-secret", nil)
	_, err := v.Validate("")
	assert.Error(t, err)
}
