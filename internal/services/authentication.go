package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
)

// LoginResult carries a full session token.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   types.Profile
}

// Principal is the authenticated caller decoded from a session token.
type Principal struct {
	Subject   string
	Role      types.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == types.RoleAdmin
}

// ProfileUpdate changes the mutable profile fields. Nil fields are kept.
type ProfileUpdate struct {
	RealName    *string
	LastName    *string
	PhoneNumber *string
}

// AuthService checks credentials and session tokens.
type AuthService struct {
	deps   Dependencies
	policy Policy
}

func NewAuthService(deps Dependencies, policy Policy) *AuthService {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.With("flow", "authentication")
	return &AuthService{deps: deps, policy: policy.withDefaults()}
}

// Login returns a session token. An unknown email and a wrong password fail
// identically, with the same hashing work.
func (s *AuthService) Login(ctx context.Context, rawEmail, password string) (LoginResult, error) {
	if blank(rawEmail, password) {
		return LoginResult{}, ErrMissingFields
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.deps.Passwords.CompareDummy(password)
			s.deps.Logger.Info(ctx, "login rejected", "reason", "unknown_email")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find account: %w", err)
	}
	if err := s.deps.Passwords.Compare(account.PasswordHash, password); err != nil {
		if errors.Is(err, credentials.ErrMismatch) {
			s.deps.Logger.Info(ctx, "login rejected", "reason", "password_mismatch", "account_id", account.ID)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if s.policy.RequireVerified && !account.IsVerified {
		return LoginResult{}, ErrAccountUnverified
	}

	now := s.deps.Clock()
	token, err := s.deps.Tokens.Issue(tokens.Grant{Subject: account.ID, Role: string(account.Role)})
	if err != nil {
		return LoginResult{}, err
	}
	s.deps.Logger.Info(ctx, "login succeeded", "account_id", account.ID)
	return LoginResult{
		Token:     token,
		ExpiresAt: now.Add(s.deps.Tokens.SessionTTL()),
		Account:   account.Profile(),
	}, nil
}

// Authenticate decodes an Authorization header value into a Principal. Only
// full session tokens are accepted; purpose-scoped tokens are invalid here.
// It is a pure function of the header and the clock.
func (s *AuthService) Authenticate(header string) (Principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Principal{}, ErrNoToken
	}
	scheme, raw, ok := strings.Cut(header, " ")
	raw = strings.TrimSpace(raw)
	if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" || strings.Contains(raw, " ") {
		return Principal{}, ErrMalformedHeader
	}

	claims, err := s.deps.Tokens.VerifyPurpose(raw, tokens.PurposeSession)
	if err != nil {
		return Principal{}, tokenError(err)
	}
	role := types.Role(claims.Role)
	if !role.Valid() {
		return Principal{}, ErrTokenInvalid
	}
	return Principal{
		Subject:   claims.Subject,
		Role:      role,
		IssuedAt:  claims.IssuedAtTime(),
		ExpiresAt: claims.ExpiresAtTime(),
	}, nil
}

// Profile returns the caller's own account.
func (s *AuthService) Profile(ctx context.Context, p Principal) (types.Profile, error) {
	account, err := s.findByID(ctx, p.Subject)
	if err != nil {
		return types.Profile{}, err
	}
	return account.Profile(), nil
}

// Account returns any account by id. Callers enforce the admin role.
func (s *AuthService) Account(ctx context.Context, id string) (types.Profile, error) {
	account, err := s.findByID(ctx, id)
	if err != nil {
		return types.Profile{}, err
	}
	return account.Profile(), nil
}

// UpdateProfile changes names and phone number. Only the owner may update.
func (s *AuthService) UpdateProfile(ctx context.Context, p Principal, id string, in ProfileUpdate) (types.Profile, error) {
	if p.Subject != id {
		return types.Profile{}, ErrForbidden
	}

	patch := types.AccountPatch{}
	for _, f := range []struct {
		in  *string
		out **string
	}{
		{in.RealName, &patch.RealName},
		{in.LastName, &patch.LastName},
		{in.PhoneNumber, &patch.PhoneNumber},
	} {
		if f.in == nil {
			continue
		}
		v := strings.TrimSpace(*f.in)
		if v == "" {
			return types.Profile{}, ErrMissingFields
		}
		*f.out = &v
	}
	if patch.Empty() {
		return types.Profile{}, ErrMissingFields
	}

	account, err := s.deps.Accounts.UpdateByID(ctx, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Profile{}, ErrNotFound
		}
		return types.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	s.deps.Logger.Info(ctx, "profile updated", "account_id", id)
	return account.Profile(), nil
}

// SetRole changes the role of the account with the given email.
func (s *AuthService) SetRole(ctx context.Context, rawEmail string, role types.Role) (types.Profile, error) {
	if !role.Valid() {
		return types.Profile{}, fmt.Errorf("unknown role %q", role)
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return types.Profile{}, err
	}
	account, err := findByEmail(ctx, s.deps.Accounts, email)
	if err != nil {
		return types.Profile{}, err
	}
	account, err = s.deps.Accounts.UpdateByID(ctx, account.ID, types.AccountPatch{Role: &role})
	if err != nil {
		return types.Profile{}, fmt.Errorf("update role: %w", err)
	}
	s.deps.Logger.Info(ctx, "role changed", "account_id", account.ID, "role", role)
	return account.Profile(), nil
}

func (s *AuthService) findByID(ctx context.Context, id string) (types.Account, error) {
	account, err := s.deps.Accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}
