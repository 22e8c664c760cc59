package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

// CredentialSet stores a provider key in the runtime key store. It takes
// effect on the next model resolution; open sessions need no restart.
func (a *App) CredentialSet(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Keys.SetToken(r.Context(), provider, req.APIKey); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (a *App) CredentialDelete(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := a.Keys.DeleteToken(r.Context(), provider); err != nil {
		a.Logger.Error().Err(err).Msg("credential delete failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete credential")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}
