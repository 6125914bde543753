package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"taxdesk/internal/service"
)

// Unsubscriber resolves and applies unsubscribe tokens
type Unsubscriber interface {
	Lookup(ctx context.Context, token string) (*service.UnsubscribeResult, error)
	Unsubscribe(ctx context.Context, token string) (*service.UnsubscribeResult, error)
}

// UnsubscribeHandler serves the public unsubscribe links
type UnsubscribeHandler struct {
	unsubscribes Unsubscriber
}

// NewUnsubscribeHandler creates a new UnsubscribeHandler
func NewUnsubscribeHandler(unsubscribes Unsubscriber) *UnsubscribeHandler {
	return &UnsubscribeHandler{unsubscribes: unsubscribes}
}

// Show handles GET /unsubscribe/{token}
func (h *UnsubscribeHandler) Show(w http.ResponseWriter, r *http.Request) {
	result, err := h.unsubscribes.Lookup(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, result)
}

// OneClick handles POST /unsubscribe/{token}, the List-Unsubscribe-Post target
func (h *UnsubscribeHandler) OneClick(w http.ResponseWriter, r *http.Request) {
	result, err := h.unsubscribes.Unsubscribe(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, result)
}
