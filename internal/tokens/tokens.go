// Package tokens issues and verifies the signed, time-bounded bearer tokens
// used for sessions, email verification and password reset.
package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose scopes a token to a single flow. The empty purpose is a full session token.
type Purpose string

const (
	PurposeSession           Purpose = ""
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

const defaultSessionTTL = 24 * time.Hour

var (
	// ErrExpired is returned when the signature is valid but the token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for any signature, format or claim mismatch.
	ErrInvalid = errors.New("token invalid")
	// ErrPurpose is returned by VerifyPurpose when the token was issued for another flow.
	ErrPurpose = errors.New("token purpose mismatch")
)

// Claims is the payload carried by every token.
type Claims struct {
	Role    string  `json:"role,omitempty"`
	Purpose Purpose `json:"purpose,omitempty"`
	// Code binds an email verification token to the Digest of the code it was issued with.
	Code string `json:"code,omitempty"`
	// Stamp binds a reset token to the credential it is allowed to replace.
	Stamp string `json:"stamp,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the issued-at claim, or the zero time.
func (c Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns the expiry claim, or the zero time.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Grant describes a token to issue.
type Grant struct {
	Subject string
	Role    string
	Purpose Purpose
	Code    string
	Stamp   string
	// TTL defaults to the service session TTL when zero.
	TTL time.Duration
}

// Service signs and verifies tokens with a shared HMAC secret.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIssuer sets the iss claim written and required by the service.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithSessionTTL sets the default TTL for grants without one.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewService constructs a Service. The secret must not be empty.
func NewService(secret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	s := &Service{
		secret:     []byte(secret),
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SessionTTL is the lifetime of grants issued without a TTL.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Issue signs a new token for the grant.
func (s *Service) Issue(g Grant) (string, error) {
	if strings.TrimSpace(g.Subject) == "" {
		return "", errors.New("token subject is required")
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = s.sessionTTL
	}

	now := s.now()
	claims := Claims{
		Role:    g.Role,
		Purpose: g.Purpose,
		Code:    g.Code,
		Stamp:   g.Stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the decoded claims.
func (s *Service) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	return claims, nil
}

// VerifyPurpose is Verify plus a hard check that the token was issued for purpose.
func (s *Service) VerifyPurpose(tokenString string, purpose Purpose) (Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Purpose != purpose {
		return Claims{}, ErrPurpose
	}
	return claims, nil
}

// Digest returns a keyed digest of value. It lets a token carry a binding to a
// secret (such as an emailed code) without revealing the secret to the bearer.
func (s *Service) Digest(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("digest:" + value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
