// Package credentials hashes and compares the two secrets an account holds:
// the primary password (bcrypt) and the recovery secret word (argon2id).
//
// The secret word is a lower-assurance credential. Users pick it to be
// memorable, so it is only ever accepted together with the account email and
// behind an attempt limiter, and it never authorizes a login on its own.
package credentials

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch is returned when a presented secret does not match its hash.
var ErrMismatch = errors.New("credential mismatch")

// ErrTooLong is returned by Passwords.Hash for input bcrypt cannot hash.
var ErrTooLong = errors.New("password too long")

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// Passwords hashes primary credentials with bcrypt.
type Passwords struct {
	cost  int
	dummy []byte
}

// NewPasswords returns a bcrypt hasher. An out-of-range cost falls back to bcrypt.DefaultCost.
func NewPasswords(cost int) (*Passwords, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy password hash: %w", err)
	}
	return &Passwords{cost: cost, dummy: dummy}, nil
}

func (p *Passwords) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrTooLong
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare returns ErrMismatch unless password matches hash.
func (p *Passwords) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return fmt.Errorf("compare password: %w", err)
}

// CompareDummy spends the same work as Compare for an identity that does not exist.
func (p *Passwords) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
}

// SecretWords hashes recovery secret words with argon2id.
type SecretWords struct {
	params *argon2id.Params
	dummy  string
}

// NewSecretWords returns an argon2id hasher. Nil params use argon2id.DefaultParams.
func NewSecretWords(params *argon2id.Params) (*SecretWords, error) {
	if params == nil {
		params = argon2id.DefaultParams
	}
	dummy, err := argon2id.CreateHash("not-a-real-secret-word", params)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy secret word hash: %w", err)
	}
	return &SecretWords{params: params, dummy: dummy}, nil
}

func (s *SecretWords) Hash(word string) (string, error) {
	hashed, err := argon2id.CreateHash(word, s.params)
	if err != nil {
		return "", fmt.Errorf("hash secret word: %w", err)
	}
	return hashed, nil
}

// Compare returns ErrMismatch unless word matches hash.
func (s *SecretWords) Compare(hash, word string) error {
	match, err := argon2id.ComparePasswordAndHash(word, hash)
	if err != nil {
		return fmt.Errorf("compare secret word: %w", err)
	}
	if !match {
		return ErrMismatch
	}
	return nil
}

// CompareDummy spends the same work as Compare for an identity that does not exist.
func (s *SecretWords) CompareDummy(word string) {
	_, _ = argon2id.ComparePasswordAndHash(word, s.dummy)
}

// Stamp derives an opaque fingerprint of a stored credential hash. A token
// carrying the stamp stops matching once the credential changes.
func Stamp(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
