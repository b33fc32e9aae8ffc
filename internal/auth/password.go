package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and checks passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher is the production Hasher. Cost 0 means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash hashes plaintext password using bcrypt.
func (h BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare checks plaintext password against a stored hash.
func (h BcryptHasher) Compare(hash, password string) error {
	if hash == "" {
		return ErrNoPasswordConfigured
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
