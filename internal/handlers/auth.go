package handlers

import (
	"net/http"
	"time"

	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/services"
	"github.com/alpinegear/identity/types"
	"github.com/go-chi/chi/v5"
)

// AuthHandler exposes the registration, authentication and recovery flows.
type AuthHandler struct {
	registration *services.RegistrationService
	auth         *services.AuthService
	recovery     *services.RecoveryService
	log          logging.Logger
}

func NewAuthHandler(
	registration *services.RegistrationService,
	auth *services.AuthService,
	recovery *services.RecoveryService,
	log logging.Logger,
) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		auth:         auth,
		recovery:     recovery,
		log:          log,
	}
}

// AuthRouter registers the /auth routes on r.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.Post("/register", h.Register)
	r.Post("/verify-email-code", h.VerifyEmailCode)
	r.Post("/resend-code", h.ResendCode)
	r.Post("/login", h.Login)

	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/verify-keyword", h.VerifyKeyword)
	r.Post("/verify-reset-token", h.VerifyResetToken)
	r.Post("/reset-password", h.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.auth, h.log))
		r.Get("/profile", h.Profile)
		r.Get("/verify", h.Profile)
		r.Put("/{id}", h.UpdateProfile)
	})
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required"`
	RealName    string `json:"realName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"required,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"required,max=32"`
	SecretWord  string `json:"secretWord" validate:"required,max=100"`
}

type RegisterResponse struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	TempToken string    `json:"tempToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register creates an unverified account and returns the temp token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	res, err := h.registration.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		RealName:    req.RealName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		SecretWord:  req.SecretWord,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		Message:   "account registered, check your email for the verification code",
		UserID:    res.AccountID,
		TempToken: res.TempToken,
		ExpiresAt: res.ExpiresAt,
	})
}

type VerifyEmailCodeRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Code      string `json:"code" validate:"required,numeric,max=12"`
	TempToken string `json:"tempToken" validate:"required"`
}

type SessionResponse struct {
	Message   string        `json:"message,omitempty"`
	Token     string        `json:"token"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	User      types.Profile `json:"user"`
}

func (h *AuthHandler) VerifyEmailCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailCodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	res, err := h.registration.VerifyEmailCode(r.Context(), services.VerifyEmailInput{
		Email:     req.Email,
		Code:      req.Code,
		TempToken: req.TempToken,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Message: "account verified",
		Token:   res.Token,
		User:    res.Account,
	})
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResendCodeResponse struct {
	Message   string    `json:"message"`
	TempToken string    `json:"tempToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	res, err := h.registration.ResendCode(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ResendCodeResponse{
		Message:   "a new verification code was sent",
		TempToken: res.TempToken,
		ExpiresAt: res.ExpiresAt,
	})
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login exchanges credentials for a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Token:     res.Token,
		ExpiresAt: &res.ExpiresAt,
		User:      res.Account,
	})
}

// Profile returns the authenticated account. It also backs GET /verify, which
// clients use to check that a stored session is still valid.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrNoToken)
		return
	}

	profile, err := h.auth.Profile(r.Context(), principal)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type UpdateProfileRequest struct {
	RealName    *string `json:"realName" validate:"omitempty,max=100"`
	LastName    *string `json:"lastName" validate:"omitempty,max=100"`
	PhoneNumber *string `json:"phoneNumber" validate:"omitempty,max=32"`
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrNoToken)
		return
	}

	var req UpdateProfileRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	profile, err := h.auth.UpdateProfile(r.Context(), principal, chi.URLParam(r, "id"), services.ProfileUpdate{
		RealName:    req.RealName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	if err := h.recovery.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "email confirmed, enter your secret word"})
}

type VerifyKeywordRequest struct {
	Email      string `json:"email" validate:"required"`
	SecretWord string `json:"secretWord" validate:"required"`
}

type VerifyKeywordResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyKeyword checks the secret word and emails the reset link. The reset
// token is only ever delivered by email.
func (h *AuthHandler) VerifyKeyword(w http.ResponseWriter, r *http.Request) {
	var req VerifyKeywordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	issued, err := h.recovery.VerifySecretWord(r.Context(), req.Email, req.SecretWord)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyKeywordResponse{
		Message:   "recovery email sent",
		ExpiresAt: issued.ExpiresAt,
	})
}

type ResetTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *AuthHandler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req ResetTokenRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	if err := h.recovery.ValidateResetToken(r.Context(), req.Token); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "token is valid"})
}

// ResetPasswordRequest leaves length checks to the flow so that the length
// errors are WEAK_CREDENTIAL and PASSWORD_TOO_LONG.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type ResetPasswordResponse struct {
	Message          string `json:"message"`
	NotificationSent bool   `json:"notificationSent"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	res, err := h.recovery.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetPasswordResponse{
		Message:          "password updated",
		NotificationSent: res.NotificationSent,
	})
}
