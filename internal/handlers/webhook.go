package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"waconnect/internal/services"
)

// WebhookHandler receives provider callbacks and hands them to the inbound
// pipeline. Once a request is authenticated it is always acked with 200:
// providers retry on failure codes and the pipeline handles its own errors.
type WebhookHandler struct {
	accounts *services.AccountService
	inbound  *services.InboundService
}

func NewWebhookHandler(accounts *services.AccountService, inbound *services.InboundService) *WebhookHandler {
	return &WebhookHandler{accounts: accounts, inbound: inbound}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

// Receive handles POST /wa/webhook and POST /wa/webhook/{uuid}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Webhook payload is not valid JSON")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}

	pathUUID := mux.Vars(r)["uuid"]
	headerUUID := r.Header.Get("X-Webhook-UUID")
	secret := r.Header.Get("webhook_key")
	if secret == "" {
		secret = r.Header.Get("X-Webhook-Key")
	}

	acct, err := h.accounts.Resolve(pathUUID, headerUUID, secret, payload)
	if err != nil || acct == nil {
		log.Warn().Str("remote", r.RemoteAddr).Str("uuid", pathUUID).Msg("Webhook for unknown account")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account_not_found"})
		return
	}

	if acct.WebhookSecret != "" && secret != acct.WebhookSecret {
		log.Warn().Str("account", acct.Name).Str("remote", r.RemoteAddr).Msg("Webhook secret mismatch")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	if err := h.inbound.Handle(r.Context(), acct, payload); err != nil {
		// Authenticated traffic is acked regardless: the provider would
		// only redeliver the same payload.
		log.Error().Err(err).Str("account", acct.Name).Msg("Webhook processing failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /health.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}
