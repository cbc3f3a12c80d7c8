package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/alpinegear/identity/internal/codes"
	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/services"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(kind notify.Kind) (notify.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind == kind {
			return o.sent[i], true
		}
	}
	return notify.Message{}, false
}

type testAPI struct {
	router       *chi.Mux
	accounts     *store.MemoryAccountRepository
	outbox       *outbox
	auth         *services.AuthService
	registration *services.RegistrationService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	tokenService, err := tokens.NewService("handler-test-secret")
	require.NoError(t, err)
	passwords, err := credentials.NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)
	secretWords, err := credentials.NewSecretWords(&argon2id.Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)

	accounts := store.NewMemoryAccountRepository()
	box := &outbox{}
	deps := services.Dependencies{
		Accounts:    accounts,
		Passwords:   passwords,
		SecretWords: secretWords,
		Codes:       codes.NewGenerator(6, 10*time.Minute, nil),
		Tokens:      tokenService,
		Mailer:      box,
		Templates:   notify.NewTemplates("Alpine Gear", "https://shop.example.com"),
		Logger:      logging.Nop(),
	}
	registration := services.NewRegistrationService(deps, services.Policy{})
	auth := services.NewAuthService(deps, services.Policy{})
	recovery := services.NewRecoveryService(deps, services.Policy{})

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, NewAuthHandler(registration, auth, recovery, logging.Nop()))
	})
	router.Route("/admin", func(r chi.Router) {
		AdminRouter(r, auth, logging.Nop())
	})
	t.Cleanup(registration.Wait)

	return &testAPI{router: router, accounts: accounts, outbox: box, auth: auth, registration: registration}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func newRequest(method, path, authorization string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func aliceRequest() RegisterRequest {
	return RegisterRequest{
		Email:       "alice@example.com",
		Password:    "s3cretpass",
		RealName:    "Alice",
		LastName:    "Liddell",
		PhoneNumber: "+34 600 000 000",
		SecretWord:  "edelweiss",
	}
}

// registerAndVerify returns the session token issued by email verification.
func (a *testAPI) registerAndVerify(t *testing.T, req RegisterRequest) SessionResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/register", req, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[RegisterResponse](t, rec)

	account, err := a.accounts.FindByEmail(context.Background(), req.Email)
	require.NoError(t, err)

	rec = a.do(t, http.MethodPost, "/auth/verify-email-code", VerifyEmailCodeRequest{
		Email:     req.Email,
		Code:      account.Verification.Code,
		TempToken: reg.TempToken,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[SessionResponse](t, rec)
}

var resetLinkPattern = regexp.MustCompile(`/reset-password/([A-Za-z0-9_.-]+)`)

func (a *testAPI) resetToken(t *testing.T) string {
	t.Helper()
	msg, ok := a.outbox.last(notify.KindResetLink)
	require.True(t, ok, "no reset link sent")
	m := resetLinkPattern.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, msg.Text)
	return m[1]
}
