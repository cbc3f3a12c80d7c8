package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/alpinegear/identity/internal/codes"
	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu        sync.Mutex
	sent      []notify.Message
	failKinds map[notify.Kind]bool
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failKinds[msg.Kind] {
		return notify.ErrDelivery
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) failOn(kinds ...notify.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKinds = map[notify.Kind]bool{}
	for _, k := range kinds {
		m.failKinds[k] = true
	}
}

func (m *recordingMailer) ofKind(kind notify.Kind) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, msg := range m.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	clock        *testClock
	accounts     *store.MemoryAccountRepository
	mailer       *recordingMailer
	tokens       *tokens.Service
	registration *RegistrationService
	auth         *AuthService
	recovery     *RecoveryService
}

type harnessOption func(*Dependencies, *Policy)

func withLimiter(l limiter.Limiter) harnessOption {
	return func(d *Dependencies, _ *Policy) { d.Limiter = l }
}

func withPolicy(fn func(*Policy)) harnessOption {
	return func(_ *Dependencies, p *Policy) { fn(p) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}

	tokenService, err := tokens.NewService("test-secret", tokens.WithClock(clock.Now), tokens.WithIssuer("alpinegear"))
	require.NoError(t, err)
	passwords, err := credentials.NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)
	secretWords, err := credentials.NewSecretWords(&argon2id.Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)

	accounts := store.NewMemoryAccountRepository()
	mailer := &recordingMailer{}
	deps := Dependencies{
		Accounts:    accounts,
		Passwords:   passwords,
		SecretWords: secretWords,
		Codes:       codes.NewGenerator(6, 10*time.Minute, clock.Now),
		Tokens:      tokenService,
		Mailer:      mailer,
		Templates:   notify.NewTemplates("Alpine Gear", "https://shop.example.com"),
		Logger:      logging.Nop(),
		Clock:       clock.Now,
	}
	policy := Policy{}
	for _, opt := range opts {
		opt(&deps, &policy)
	}

	return &harness{
		clock:        clock,
		accounts:     accounts,
		mailer:       mailer,
		tokens:       tokenService,
		registration: NewRegistrationService(deps, policy),
		auth:         NewAuthService(deps, policy),
		recovery:     NewRecoveryService(deps, policy),
	}
}

func aliceInput() RegisterInput {
	return RegisterInput{
		Email:       "alice@example.com",
		Password:    "s3cretpass",
		RealName:    "Alice",
		LastName:    "Liddell",
		PhoneNumber: "+34 600 000 000",
		SecretWord:  "edelweiss",
	}
}

func (h *harness) register(t *testing.T, in RegisterInput) RegisterResult {
	t.Helper()
	res, err := h.registration.Register(context.Background(), in)
	require.NoError(t, err)
	h.registration.Wait()
	return res
}

func (h *harness) pendingCode(t *testing.T, email string) string {
	t.Helper()
	account, err := h.accounts.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return account.Verification.Code
}

func (h *harness) account(t *testing.T, email string) types.Account {
	t.Helper()
	account, err := h.accounts.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return account
}

// registerVerified registers alice and completes email verification.
func (h *harness) registerVerified(t *testing.T) RegisterResult {
	t.Helper()
	res := h.register(t, aliceInput())
	_, err := h.registration.VerifyEmailCode(context.Background(), VerifyEmailInput{
		Email:     "alice@example.com",
		Code:      h.pendingCode(t, "alice@example.com"),
		TempToken: res.TempToken,
	})
	require.NoError(t, err)
	h.registration.Wait()
	return res
}

type denyLimiter struct {
	scope limiter.Scope
}

func (l denyLimiter) Take(_ context.Context, scope limiter.Scope, _ string) error {
	if scope == l.scope {
		return limiter.ErrRateLimited
	}
	return nil
}

func (denyLimiter) Reset(context.Context, limiter.Scope, string) error { return nil }
