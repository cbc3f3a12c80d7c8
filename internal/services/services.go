// Package services implements the account flows: registration with email
// verification, authentication, and password recovery.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alpinegear/identity/internal/codes"
	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
)

const (
	defaultVerificationTTL   = 10 * time.Minute
	defaultResetTTL          = time.Hour
	defaultMinPasswordLength = 6
)

// Dependencies are the process-scoped collaborators shared by every flow.
type Dependencies struct {
	Accounts    store.AccountRepository
	Passwords   *credentials.Passwords
	SecretWords *credentials.SecretWords
	Codes       *codes.Generator
	Tokens      *tokens.Service
	Mailer      notify.Dispatcher
	Templates   *notify.Templates
	Limiter     limiter.Limiter
	Logger      logging.Logger
	Clock       func() time.Time
}

// Policy holds the tunable rules of the flows.
type Policy struct {
	VerificationTTL   time.Duration
	ResetTTL          time.Duration
	MinPasswordLength int
	RequireVerified   bool
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Limiter == nil {
		d.Limiter = limiter.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

func (p Policy) withDefaults() Policy {
	if p.VerificationTTL <= 0 {
		p.VerificationTTL = defaultVerificationTTL
	}
	if p.ResetTTL <= 0 {
		p.ResetTTL = defaultResetTTL
	}
	if p.MinPasswordLength <= 0 {
		p.MinPasswordLength = defaultMinPasswordLength
	}
	return p
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// normalizeEmail returns the canonical form of email or ErrInvalidEmail.
func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return types.NormalizeEmail(addr.Address), nil
}

// findByEmail loads an account, mapping a miss to ErrNotFound.
func findByEmail(ctx context.Context, accounts store.AccountRepository, email string) (types.Account, error) {
	account, err := accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

// checkPassword enforces the minimum length in characters and the bcrypt
// input limit in bytes.
func (p Policy) checkPassword(password string) error {
	if utf8.RuneCountInString(password) < p.MinPasswordLength {
		return ErrWeakCredential
	}
	if len(password) > credentials.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// checkLimit converts limiter failures into flow errors.
func checkLimit(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, limiter.ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("check attempt budget: %w", err)
}
