package services

import (
	"errors"

	"github.com/alpinegear/identity/internal/tokens"
)

// Kind classifies flow errors. The HTTP layer maps each kind to a status.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindCredential  Kind = "credential"
	KindToken       Kind = "token"
	KindForbidden   Kind = "forbidden"
	KindDelivery    Kind = "delivery"
	KindRateLimited Kind = "rate_limited"
)

// Error is a failure the caller is allowed to see. Code is stable and
// machine-readable; Message is for humans.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingFields      = &Error{KindValidation, "MISSING_FIELDS", "all fields are required"}
	ErrInvalidEmail       = &Error{KindValidation, "INVALID_EMAIL", "email address is not valid"}
	ErrWeakCredential     = &Error{KindValidation, "WEAK_CREDENTIAL", "password is too short"}
	ErrPasswordTooLong    = &Error{KindValidation, "PASSWORD_TOO_LONG", "password must be at most 72 bytes"}
	ErrDuplicateIdentity  = &Error{KindConflict, "EMAIL_IN_USE", "email is already registered"}
	ErrNotFound           = &Error{KindNotFound, "NOT_FOUND", "account not found"}
	ErrInvalidCredentials = &Error{KindCredential, "INVALID_CREDENTIALS", "invalid credentials"}
	ErrCodeInvalid        = &Error{KindValidation, "INVALID_CODE", "verification code is not valid"}
	ErrCodeExpired        = &Error{KindValidation, "CODE_EXPIRED", "verification code has expired"}
	ErrAlreadyVerified    = &Error{KindValidation, "ALREADY_VERIFIED", "account is already verified"}
	ErrNoToken            = &Error{KindToken, "NO_TOKEN", "authorization token is required"}
	ErrMalformedHeader    = &Error{KindToken, "INVALID_TOKEN_FORMAT", "authorization header must be Bearer <token>"}
	ErrTokenExpired       = &Error{KindToken, "TOKEN_EXPIRED", "token has expired"}
	ErrTokenInvalid       = &Error{KindToken, "INVALID_TOKEN", "token is not valid"}
	ErrAccountUnverified  = &Error{KindForbidden, "ACCOUNT_UNVERIFIED", "email address has not been verified"}
	ErrForbidden          = &Error{KindForbidden, "FORBIDDEN", "not allowed"}
	ErrDeliveryFailed     = &Error{KindDelivery, "DELIVERY_FAILED", "could not send email, try again later"}
	ErrRateLimited        = &Error{KindRateLimited, "RATE_LIMITED", "too many attempts, try again later"}
)

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// tokenError maps a tokens failure to the distinct expired and invalid errors.
func tokenError(err error) error {
	if errors.Is(err, tokens.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
