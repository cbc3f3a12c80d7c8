package handlers

import (
	"net/http"

	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/services"
	"github.com/alpinegear/identity/types"
	"github.com/go-chi/chi/v5"
)

// AdminRouter registers the admin-only account routes on r.
func AdminRouter(r chi.Router, auth *services.AuthService, log logging.Logger) {
	r.Use(RequireAuth(auth, log), RequireRole(types.RoleAdmin))
	r.Get("/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		profile, err := auth.Account(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
