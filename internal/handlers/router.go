package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
)

// NewRouter builds the HTTP surface: the webhook intake and a health probe.
func NewRouter(webhook *WebhookHandler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/wa/webhook", webhook.Receive).Methods(http.MethodPost)
	r.HandleFunc("/wa/webhook/{uuid}", webhook.Receive).Methods(http.MethodPost)
	r.HandleFunc("/health", webhook.Health).Methods(http.MethodGet)

	chain := alice.New(Recoverer, RequestLogger)
	return chain.Then(r)
}
