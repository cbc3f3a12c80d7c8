package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alpinegear/identity/internal/codes"
	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
)

const asyncSendTimeout = 30 * time.Second

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Email       string
	Password    string
	RealName    string
	LastName    string
	PhoneNumber string
	SecretWord  string
}

// RegisterResult carries the temp token that must accompany the emailed code.
type RegisterResult struct {
	AccountID string
	TempToken string
	ExpiresAt time.Time
}

// VerifyEmailInput proves ownership of Email.
type VerifyEmailInput struct {
	Email     string
	Code      string
	TempToken string
}

// VerifyResult is returned once an account is verified.
type VerifyResult struct {
	Token   string
	Account types.Profile
}

// RegistrationService drives Unregistered -> PendingVerification -> Verified.
type RegistrationService struct {
	deps   Dependencies
	policy Policy

	// pending tracks verification emails still being sent.
	pending sync.WaitGroup
}

func NewRegistrationService(deps Dependencies, policy Policy) *RegistrationService {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.With("flow", "registration")
	return &RegistrationService{deps: deps, policy: policy.withDefaults()}
}

// Register creates an unverified customer account and emails it a verification
// code. Delivery runs in the background and its failure does not fail the call.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	if blank(in.Email, in.Password, in.RealName, in.LastName, in.PhoneNumber, in.SecretWord) {
		return RegisterResult{}, ErrMissingFields
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return RegisterResult{}, err
	}
	if err := s.policy.checkPassword(in.Password); err != nil {
		return RegisterResult{}, err
	}

	passwordHash, err := s.deps.Passwords.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	secretWordHash, err := s.deps.SecretWords.Hash(strings.TrimSpace(in.SecretWord))
	if err != nil {
		return RegisterResult{}, err
	}
	code, err := s.deps.Codes.Generate()
	if err != nil {
		return RegisterResult{}, err
	}

	now := s.deps.Clock()
	account, err := s.deps.Accounts.InsertIfAbsent(ctx, types.Account{
		Email:          email,
		PasswordHash:   passwordHash,
		RealName:       strings.TrimSpace(in.RealName),
		LastName:       strings.TrimSpace(in.LastName),
		PhoneNumber:    strings.TrimSpace(in.PhoneNumber),
		SecretWordHash: secretWordHash,
		Role:           types.RoleCustomer,
		Verification:   code,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateIdentity) {
			return RegisterResult{}, ErrDuplicateIdentity
		}
		return RegisterResult{}, fmt.Errorf("create account: %w", err)
	}
	s.deps.Logger.Info(ctx, "account registered", "account_id", account.ID)

	result, err := s.issueTempToken(account, code)
	if err != nil {
		return RegisterResult{}, err
	}
	s.sendCode(ctx, account, code)
	return result, nil
}

// VerifyEmailCode consumes the pending code and returns a full session token.
func (s *RegistrationService) VerifyEmailCode(ctx context.Context, in VerifyEmailInput) (VerifyResult, error) {
	if blank(in.Email, in.Code, in.TempToken) {
		return VerifyResult{}, ErrMissingFields
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return VerifyResult{}, err
	}
	presented := strings.TrimSpace(in.Code)

	if err := checkLimit(s.deps.Limiter.Take(ctx, limiter.ScopeCodeVerify, email)); err != nil {
		return VerifyResult{}, err
	}

	claims, err := s.deps.Tokens.VerifyPurpose(strings.TrimSpace(in.TempToken), tokens.PurposeEmailVerification)
	if err != nil {
		s.deps.Logger.Info(ctx, "temp token rejected", "error", err)
		return VerifyResult{}, tokenError(err)
	}

	account, err := findByEmail(ctx, s.deps.Accounts, email)
	if err != nil {
		return VerifyResult{}, err
	}
	if claims.Subject != account.ID {
		s.deps.Logger.Warn(ctx, "temp token bound to another account", "account_id", account.ID)
		return VerifyResult{}, ErrTokenInvalid
	}

	if claims.Code != "" && subtle.ConstantTimeCompare([]byte(claims.Code), []byte(s.deps.Tokens.Digest(presented))) != 1 {
		return VerifyResult{}, s.codeFailed(ctx, account, codes.ErrMismatch)
	}
	if err := codes.Match(account.Verification, presented, s.deps.Clock()); err != nil {
		return VerifyResult{}, s.codeFailed(ctx, account, err)
	}

	verified := true
	account, err = s.deps.Accounts.UpdateByID(ctx, account.ID, types.AccountPatch{
		IsVerified:        &verified,
		ClearVerification: true,
		IfCode:            presented,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// consumed concurrently
			return VerifyResult{}, ErrCodeInvalid
		}
		return VerifyResult{}, fmt.Errorf("mark account verified: %w", err)
	}
	if err := s.deps.Limiter.Reset(ctx, limiter.ScopeCodeVerify, email); err != nil {
		s.deps.Logger.Warn(ctx, "reset attempt budget failed", "error", err)
	}

	token, err := s.deps.Tokens.Issue(tokens.Grant{Subject: account.ID, Role: string(account.Role)})
	if err != nil {
		return VerifyResult{}, err
	}
	s.deps.Logger.Info(ctx, "account verified", "account_id", account.ID)

	if msg, err := s.deps.Templates.Welcome(account.Email, account.RealName); err != nil {
		s.deps.Logger.Warn(ctx, "render welcome email failed", "error", err)
	} else {
		s.sendAsync(ctx, msg)
	}
	return VerifyResult{Token: token, Account: account.Profile()}, nil
}

// ResendCode replaces the pending code with a fresh one and issues a new temp token.
func (s *RegistrationService) ResendCode(ctx context.Context, rawEmail string) (RegisterResult, error) {
	if blank(rawEmail) {
		return RegisterResult{}, ErrMissingFields
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return RegisterResult{}, err
	}
	if err := checkLimit(s.deps.Limiter.Take(ctx, limiter.ScopeCodeResend, email)); err != nil {
		return RegisterResult{}, err
	}

	account, err := findByEmail(ctx, s.deps.Accounts, email)
	if err != nil {
		return RegisterResult{}, err
	}
	if account.IsVerified {
		return RegisterResult{}, ErrAlreadyVerified
	}

	code, err := s.deps.Codes.Generate()
	if err != nil {
		return RegisterResult{}, err
	}
	account, err = s.deps.Accounts.UpdateByID(ctx, account.ID, types.AccountPatch{Verification: &code})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RegisterResult{}, ErrNotFound
		}
		return RegisterResult{}, fmt.Errorf("store verification code: %w", err)
	}

	result, err := s.issueTempToken(account, code)
	if err != nil {
		return RegisterResult{}, err
	}
	s.sendCode(ctx, account, code)
	return result, nil
}

// Wait blocks until every background email has been handed to the mailer.
func (s *RegistrationService) Wait() {
	s.pending.Wait()
}

func (s *RegistrationService) issueTempToken(account types.Account, code types.VerificationCode) (RegisterResult, error) {
	now := s.deps.Clock()
	token, err := s.deps.Tokens.Issue(tokens.Grant{
		Subject: account.ID,
		Role:    string(account.Role),
		Purpose: tokens.PurposeEmailVerification,
		Code:    s.deps.Tokens.Digest(code.Code),
		TTL:     s.policy.VerificationTTL,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		AccountID: account.ID,
		TempToken: token,
		ExpiresAt: now.Add(s.policy.VerificationTTL),
	}, nil
}

// codeFailed hides the cause from the caller
// except for plain expiry. An expired code is cleared so it cannot be reused.
func (s *RegistrationService) codeFailed(ctx context.Context, account types.Account, cause error) error {
	s.deps.Logger.Info(ctx, "verification code rejected", "account_id", account.ID, "cause", cause)
	if !errors.Is(cause, codes.ErrExpired) {
		return ErrCodeInvalid
	}
	_, err := s.deps.Accounts.UpdateByID(ctx, account.ID, types.AccountPatch{
		ClearVerification: true,
		IfCode:            account.Verification.Code,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.deps.Logger.Warn(ctx, "clear expired code failed", "account_id", account.ID, "error", err)
	}
	return ErrCodeExpired
}

func (s *RegistrationService) sendCode(ctx context.Context, account types.Account, code types.VerificationCode) {
	msg, err := s.deps.Templates.VerificationCode(account.Email, account.RealName, code.Code, s.deps.Codes.TTL())
	if err != nil {
		s.deps.Logger.Error(ctx, "render verification email failed", "account_id", account.ID, "error", err)
		return
	}
	s.sendAsync(ctx, msg)
}

// sendAsync delivers msg off the request path. The request context's values
// are kept but its cancellation is not.
func (s *RegistrationService) sendAsync(ctx context.Context, msg notify.Message) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, asyncSendTimeout)
		defer cancel()
		if err := s.deps.Mailer.Send(ctx, msg); err != nil {
			s.deps.Logger.Warn(ctx, "send email failed", "kind", msg.Kind, "error", err)
		}
	}()
}
