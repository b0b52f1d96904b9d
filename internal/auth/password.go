package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor applied to every new hash.
const PasswordCost = 10

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using PasswordCost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: PasswordCost}
}

// Hash hashes plaintext password using bcrypt. The salt is embedded in the output.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", wrapError(KindHashingFailure, ErrHashingFailure.Message, errors.New("password is empty"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", wrapError(KindHashingFailure, ErrHashingFailure.Message, err)
	}
	if len(hash) == 0 {
		return "", ErrHashingFailure
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash.
func (h *BcryptHasher) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
