package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/services"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidRequest = &services.Error{Kind: services.KindValidation, Code: "INVALID_REQUEST", Message: "request body is not valid JSON"}
	errInternal       = &services.Error{Code: "SERVER_ERROR", Message: "internal server error"}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageResponse is the body of requests whose only result is a message.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, e *services.Error) {
	writeJSON(w, status, ErrorResponse{Code: e.Code, Message: e.Message})
}

// writeServiceError renders a flow error. Errors without a kind are logged and
// reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	if e, ok := services.AsError(err); ok {
		writeError(w, statusFor(e.Kind), e)
		return
	}
	log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, errInternal)
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindCredential, services.KindToken:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidRequest
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errInvalidRequest
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return services.ErrMissingFields
		}
	}
	fe := verrs[0]
	if fe.Tag() == "email" {
		return services.ErrInvalidEmail
	}
	return &services.Error{
		Kind:    services.KindValidation,
		Code:    "INVALID_FIELD",
		Message: fmt.Sprintf("%s is not valid", fe.Field()),
	}
}
