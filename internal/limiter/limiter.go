// Package limiter bounds how often a caller may attempt a guessable step
// (secret-word checks, code verification, code resends) for one account.
package limiter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Scope names an attempt budget.
type Scope string

const (
	ScopeSecretWord Scope = "secret_word"
	ScopeCodeResend Scope = "code_resend"
	ScopeCodeVerify Scope = "code_verify"
)

// Budget allows Attempts recorded attempts per fixed Window.
type Budget struct {
	Attempts int
	Window   time.Duration
}

// Limiter tracks attempts per scope and key.
type Limiter interface {
	// Take records one attempt and returns ErrRateLimited when it exceeds the
	// budget for key. Recording and checking are a single step, so concurrent
	// attempts cannot all slip under the budget.
	Take(ctx context.Context, scope Scope, key string) error
	// Reset clears the recorded attempts for key.
	Reset(ctx context.Context, scope Scope, key string) error
}

// Nop never limits.
type Nop struct{}

func (Nop) Take(context.Context, Scope, string) error  { return nil }
func (Nop) Reset(context.Context, Scope, string) error { return nil }
