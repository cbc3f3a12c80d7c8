package services

import (
	"context"
	"errors"
	"sync"
	"strings"
	"testing"
	"time"

	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/alpinegear/identity/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesPendingAccount(t *testing.T) {
	h := newHarness(t)
	start := h.clock.Now()

	res := h.register(t, aliceInput())
	assert.NotEmpty(t, res.AccountID)
	assert.NotEmpty(t, res.TempToken)
	assert.Equal(t, start.Add(10*time.Minute), res.ExpiresAt)

	account := h.account(t, "alice@example.com")
	assert.Equal(t, res.AccountID, account.ID)
	assert.Equal(t, types.RoleCustomer, account.Role)
	assert.False(t, account.IsVerified)
	assert.Len(t, account.Verification.Code, 6)
	assert.Equal(t, start.Add(10*time.Minute), account.Verification.ExpiresAt)
	assert.NotEqual(t, "s3cretpass", account.PasswordHash)
	assert.NotEqual(t, "edelweiss", account.SecretWordHash)

	sent := h.mailer.ofKind(notify.KindVerificationCode)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].Text, account.Verification.Code)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	h := newHarness(t)
	in := aliceInput()
	in.Email = "  Alice@Example.COM "
	h.register(t, in)

	assert.Equal(t, "alice@example.com", h.account(t, "alice@example.com").Email)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	missing := aliceInput()
	missing.SecretWord = "   "
	_, err := h.registration.Register(ctx, missing)
	assert.ErrorIs(t, err, ErrMissingFields)

	badEmail := aliceInput()
	badEmail.Email = "alice.example.com"
	_, err = h.registration.Register(ctx, badEmail)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	weak := aliceInput()
	weak.Password = "short"
	_, err = h.registration.Register(ctx, weak)
	assert.ErrorIs(t, err, ErrWeakCredential)

	// six bytes, three characters
	weak.Password = "ñññ"
	_, err = h.registration.Register(ctx, weak)
	assert.ErrorIs(t, err, ErrWeakCredential)

	long := aliceInput()
	long.Password = strings.Repeat("é", 40)
	_, err = h.registration.Register(ctx, long)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	long.Password = strings.Repeat("a", 73)
	_, err = h.registration.Register(ctx, long)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestRegisterMultibytePasswordWithinLimits(t *testing.T) {
	h := newHarness(t)
	in := aliceInput()
	in.Password = strings.Repeat("é", 36)
	h.register(t, in)

	res, err := h.auth.Login(context.Background(), "alice@example.com", in.Password)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	h := newHarness(t)
	h.register(t, aliceInput())

	again := aliceInput()
	again.Email = "ALICE@example.com"
	_, err := h.registration.Register(context.Background(), again)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestRegisterConcurrentDuplicate(t *testing.T) {
	h := newHarness(t)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.registration.Register(context.Background(), aliceInput())
		}(i)
	}
	wg.Wait()
	h.registration.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
	}
	assert.Equal(t, 1, succeeded)
}

func TestRegisterSurvivesDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.mailer.failOn(notify.KindVerificationCode)

	res := h.register(t, aliceInput())
	assert.NotEmpty(t, res.TempToken)
	assert.Empty(t, h.mailer.ofKind(notify.KindVerificationCode))
}

func TestTempTokenScopeAndLifetime(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, aliceInput())
	code := h.pendingCode(t, "alice@example.com")

	claims, err := h.tokens.Verify(res.TempToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.PurposeEmailVerification, claims.Purpose)
	assert.Equal(t, res.AccountID, claims.Subject)
	assert.NotEqual(t, code, claims.Code, "the code must not be readable from the token")

	h.clock.Advance(11 * time.Minute)
	_, err = h.tokens.Verify(res.TempToken)
	assert.ErrorIs(t, err, tokens.ErrExpired)
}

func TestVerifyEmailCodeScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, aliceInput())
	code := h.pendingCode(t, "alice@example.com")

	h.clock.Advance(9 * time.Minute)
	verified, err := h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: code, TempToken: res.TempToken,
	})
	require.NoError(t, err)
	h.registration.Wait()

	assert.True(t, verified.Account.IsVerified)
	assert.Equal(t, res.AccountID, verified.Account.ID)

	principal, err := h.auth.Authenticate("Bearer " + verified.Token)
	require.NoError(t, err)
	assert.Equal(t, res.AccountID, principal.Subject)
	assert.Equal(t, types.RoleCustomer, principal.Role)

	assert.True(t, h.account(t, "alice@example.com").Verification.Empty())
	assert.Len(t, h.mailer.ofKind(notify.KindWelcome), 1)

	_, err = h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: code, TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestVerifyEmailCodeWrongCode(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, aliceInput())
	code := h.pendingCode(t, "alice@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err := h.registration.VerifyEmailCode(context.Background(), VerifyEmailInput{
		Email: "alice@example.com", Code: wrong, TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrCodeInvalid)

	account := h.account(t, "alice@example.com")
	assert.False(t, account.IsVerified)
	assert.Equal(t, code, account.Verification.Code)
}

func TestVerifyEmailCodeExpiredToken(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, aliceInput())
	code := h.pendingCode(t, "alice@example.com")

	h.clock.Advance(11 * time.Minute)
	_, err := h.registration.VerifyEmailCode(context.Background(), VerifyEmailInput{
		Email: "alice@example.com", Code: code, TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyEmailCodeExpiredCode(t *testing.T) {
	// the temp token outlives the code so that code expiry is observable
	h := newHarness(t, withPolicy(func(p *Policy) { p.VerificationTTL = 30 * time.Minute }))
	ctx := context.Background()
	res := h.register(t, aliceInput())
	code := h.pendingCode(t, "alice@example.com")

	h.clock.Advance(10*time.Minute + time.Second)
	_, err := h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: code, TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.True(t, h.account(t, "alice@example.com").Verification.Empty())

	_, err = h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: code, TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestVerifyEmailCodeTokenBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceInput())
	bob := aliceInput()
	bob.Email = "bob@example.com"
	bobRes := h.register(t, bob)

	_, err := h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email:     "alice@example.com",
		Code:      h.pendingCode(t, "alice@example.com"),
		TempToken: bobRes.TempToken,
	})
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyEmailCodeRejectsOtherPurposes(t *testing.T) {
	h := newHarness(t)
	res := h.register(t, aliceInput())

	session, err := h.tokens.Issue(tokens.Grant{Subject: res.AccountID, Role: "customer"})
	require.NoError(t, err)

	_, err = h.registration.VerifyEmailCode(context.Background(), VerifyEmailInput{
		Email:     "alice@example.com",
		Code:      h.pendingCode(t, "alice@example.com"),
		TempToken: session,
	})
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyEmailCodeErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, aliceInput())

	_, err := h.registration.VerifyEmailCode(ctx, VerifyEmailInput{Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: "123456", TempToken: "not.a.token",
	})
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "nobody@example.com", Code: "123456", TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyEmailCodeRateLimited(t *testing.T) {
	h := newHarness(t, withLimiter(denyLimiter{scope: limiter.ScopeCodeVerify}))
	res := h.register(t, aliceInput())

	_, err := h.registration.VerifyEmailCode(context.Background(), VerifyEmailInput{
		Email:     "alice@example.com",
		Code:      h.pendingCode(t, "alice@example.com"),
		TempToken: res.TempToken,
	})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestResendCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceInput())

	h.clock.Advance(12 * time.Minute)
	res, err := h.registration.ResendCode(ctx, "alice@example.com")
	require.NoError(t, err)
	h.registration.Wait()

	account := h.account(t, "alice@example.com")
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), account.Verification.ExpiresAt)
	assert.Len(t, h.mailer.ofKind(notify.KindVerificationCode), 2)

	verified, err := h.registration.VerifyEmailCode(ctx, VerifyEmailInput{
		Email: "alice@example.com", Code: account.Verification.Code, TempToken: res.TempToken,
	})
	require.NoError(t, err)
	assert.True(t, verified.Account.IsVerified)

	_, err = h.registration.ResendCode(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	_, err = h.registration.ResendCode(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResendCodeRateLimited(t *testing.T) {
	h := newHarness(t, withLimiter(denyLimiter{scope: limiter.ScopeCodeResend}))
	h.register(t, aliceInput())

	_, err := h.registration.ResendCode(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestErrorsCarryStableCodes(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrCodeExpired)
	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "CODE_EXPIRED", e.Code)
	assert.Equal(t, KindValidation, e.Kind)

	_, ok = AsError(errors.New("boom"))
	assert.False(t, ok)
}
