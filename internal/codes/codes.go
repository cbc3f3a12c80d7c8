// Package codes generates and checks the short numeric codes mailed to prove
// ownership of an email address.
package codes

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/alpinegear/identity/types"
)

const (
	DefaultDigits = 6
	DefaultTTL    = 10 * time.Minute
)

var (
	ErrAbsent   = errors.New("no verification code pending")
	ErrExpired  = errors.New("verification code expired")
	ErrMismatch = errors.New("verification code mismatch")
)

// Generator produces uniformly distributed decimal codes.
type Generator struct {
	digits int
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
}

// NewGenerator returns a generator with the given code length and lifetime.
// Non-positive arguments fall back to 6 digits and 10 minutes.
func NewGenerator(digits int, ttl time.Duration, now func() time.Time) *Generator {
	if digits <= 0 {
		digits = DefaultDigits
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{digits: digits, ttl: ttl, now: now, rand: rand.Reader}
}

// Generate returns a fresh code and the instant it stops being valid.
func (g *Generator) Generate() (types.VerificationCode, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(g.digits)), nil)
	n, err := rand.Int(g.rand, limit)
	if err != nil {
		return types.VerificationCode{}, fmt.Errorf("generate verification code: %w", err)
	}
	return types.VerificationCode{
		Code:      fmt.Sprintf("%0*d", g.digits, n),
		ExpiresAt: g.now().Add(g.ttl),
	}, nil
}

// TTL returns the lifetime of generated codes.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// Match accepts presented iff it equals the stored code and now is before the expiry.
// Expiry is evaluated first and independently of the value.
func Match(stored types.VerificationCode, presented string, now time.Time) error {
	if stored.Empty() {
		return ErrAbsent
	}
	if !now.Before(stored.ExpiresAt) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(presented)) != 1 {
		return ErrMismatch
	}
	return nil
}
