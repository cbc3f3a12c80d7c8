package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
)

// ResetIssued describes the reset token that was emailed. The token itself
// never leaves the service except inside the email.
type ResetIssued struct {
	Token     string
	ExpiresAt time.Time
}

// ResetResult reports whether the confirmation email went out.
type ResetResult struct {
	NotificationSent bool
}

// RecoveryService drives NoChallenge -> EmailConfirmed -> ChallengeConfirmed -> Reset.
type RecoveryService struct {
	deps   Dependencies
	policy Policy
}

func NewRecoveryService(deps Dependencies, policy Policy) *RecoveryService {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.With("flow", "recovery")
	return &RecoveryService{deps: deps, policy: policy.withDefaults()}
}

// ForgotPassword confirms that an account exists for email. No token is issued.
func (s *RecoveryService) ForgotPassword(ctx context.Context, rawEmail string) error {
	if blank(rawEmail) {
		return ErrMissingFields
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	_, err = findByEmail(ctx, s.deps.Accounts, email)
	return err
}

// VerifySecretWord checks the email and secret word jointly and, on success,
// emails a one-hour reset link. Both halves fail with the same error.
// Delivery is synchronous because the user has no other way to get the link.
func (s *RecoveryService) VerifySecretWord(ctx context.Context, rawEmail, secretWord string) (ResetIssued, error) {
	if blank(rawEmail, secretWord) {
		return ResetIssued{}, ErrMissingFields
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return ResetIssued{}, ErrInvalidCredentials
	}
	secretWord = strings.TrimSpace(secretWord)

	if err := checkLimit(s.deps.Limiter.Take(ctx, limiter.ScopeSecretWord, email)); err != nil {
		return ResetIssued{}, err
	}

	account, err := s.deps.Accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.deps.SecretWords.CompareDummy(secretWord)
		return ResetIssued{}, s.secretWordFailed(ctx, email, "unknown_email")
	case err != nil:
		return ResetIssued{}, fmt.Errorf("find account: %w", err)
	}
	if err := s.deps.SecretWords.Compare(account.SecretWordHash, secretWord); err != nil {
		if errors.Is(err, credentials.ErrMismatch) {
			return ResetIssued{}, s.secretWordFailed(ctx, email, "secret_word_mismatch")
		}
		return ResetIssued{}, err
	}
	if err := s.deps.Limiter.Reset(ctx, limiter.ScopeSecretWord, email); err != nil {
		s.deps.Logger.Warn(ctx, "reset attempt budget failed", "error", err)
	}

	now := s.deps.Clock()
	token, err := s.deps.Tokens.Issue(tokens.Grant{
		Subject: account.ID,
		Role:    string(account.Role),
		Purpose: tokens.PurposePasswordReset,
		Stamp:   credentials.Stamp(account.PasswordHash),
		TTL:     s.policy.ResetTTL,
	})
	if err != nil {
		return ResetIssued{}, err
	}

	msg, err := s.deps.Templates.ResetLink(account.Email, token, s.policy.ResetTTL)
	if err != nil {
		return ResetIssued{}, fmt.Errorf("render reset email: %w", err)
	}
	if err := s.deps.Mailer.Send(ctx, msg); err != nil {
		s.deps.Logger.Error(ctx, "send reset link failed", "account_id", account.ID, "error", err)
		return ResetIssued{}, ErrDeliveryFailed
	}
	s.deps.Logger.Info(ctx, "reset link sent", "account_id", account.ID)
	return ResetIssued{Token: token, ExpiresAt: now.Add(s.policy.ResetTTL)}, nil
}

// ValidateResetToken reports whether token can still reset a password.
func (s *RecoveryService) ValidateResetToken(ctx context.Context, token string) error {
	if blank(token) {
		return ErrMissingFields
	}
	_, err := s.resolveResetToken(ctx, token)
	return err
}

// ResetPassword replaces the password of the token's account. The token stops
// working once the password changes. A failed confirmation email is reported
// in the result and does not undo the reset.
func (s *RecoveryService) ResetPassword(ctx context.Context, token, newPassword string) (ResetResult, error) {
	if blank(token) || newPassword == "" {
		return ResetResult{}, ErrMissingFields
	}
	if err := s.policy.checkPassword(newPassword); err != nil {
		return ResetResult{}, err
	}

	account, err := s.resolveResetToken(ctx, token)
	if err != nil {
		return ResetResult{}, err
	}
	hash, err := s.deps.Passwords.Hash(newPassword)
	if err != nil {
		return ResetResult{}, err
	}
	account, err = s.deps.Accounts.UpdateByID(ctx, account.ID, types.AccountPatch{PasswordHash: &hash})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResetResult{}, ErrTokenInvalid
		}
		return ResetResult{}, fmt.Errorf("store password: %w", err)
	}
	s.deps.Logger.Info(ctx, "password reset", "account_id", account.ID)

	msg, err := s.deps.Templates.ResetConfirmation(account.Email)
	if err == nil {
		err = s.deps.Mailer.Send(ctx, msg)
	}
	if err != nil {
		s.deps.Logger.Warn(ctx, "send reset confirmation failed", "account_id", account.ID, "error", err)
		return ResetResult{NotificationSent: false}, nil
	}
	return ResetResult{NotificationSent: true}, nil
}

// resolveResetToken returns the account a reset token may act on.
func (s *RecoveryService) resolveResetToken(ctx context.Context, token string) (types.Account, error) {
	claims, err := s.deps.Tokens.VerifyPurpose(strings.TrimSpace(token), tokens.PurposePasswordReset)
	if err != nil {
		s.deps.Logger.Info(ctx, "reset token rejected", "error", err)
		return types.Account{}, tokenError(err)
	}
	account, err := s.deps.Accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrTokenInvalid
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}
	if claims.Stamp != credentials.Stamp(account.PasswordHash) {
		s.deps.Logger.Info(ctx, "reset token already used", "account_id", account.ID)
		return types.Account{}, ErrTokenInvalid
	}
	return account, nil
}

func (s *RecoveryService) secretWordFailed(ctx context.Context, email, reason string) error {
	s.deps.Logger.Info(ctx, "secret word rejected", "reason", reason)
	return ErrInvalidCredentials
}
