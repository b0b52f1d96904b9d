package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := NewBcryptHasher()

	hash, err := h.Hash("Secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123", hash)
	assert.True(t, h.Verify("Secret123", hash))
	assert.False(t, h.Verify("secret123", hash))
	assert.False(t, h.Verify("", hash))
	assert.False(t, h.Verify("Secret123", ""))

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, PasswordCost, cost)
}

func TestBcryptHasherSaltsEachHash(t *testing.T) {
	h := NewBcryptHasher()
	first, err := h.Hash("same-password")
	require.NoError(t, err)
	second, err := h.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestBcryptHasherFailures(t *testing.T) {
	h := NewBcryptHasher()

	_, err := h.Hash("")
	require.ErrorIs(t, err, ErrHashingFailure)

	// bcrypt refuses inputs longer than 72 bytes.
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a'
	}
	_, err = h.Hash(string(long))
	require.ErrorIs(t, err, ErrHashingFailure)
	assert.True(t, errors.Is(err, bcrypt.ErrPasswordTooLong))
}

func TestVerifyGarbageHash(t *testing.T) {
	assert.False(t, NewBcryptHasher().Verify("pw", "not-a-bcrypt-hash"))
}
