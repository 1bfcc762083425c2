package airouter

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
)

// Handler serves POST /api/ai.
type Handler struct {
	router *Router
}

// NewHandler creates a handler for router.
func NewHandler(router *Router) *Handler {
	return &Handler{router: router}
}

// ServeHTTP decodes {input, userId, language?} and replies {response}.
// Any failure to read the request is a 500 with {error}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, r, domain.ErrServer("invalid request body: "+err.Error()))
		return
	}

	resp := h.router.Route(r.Context(), req)
	server.AddLogField(r.Context(), "ai_tier", string(resp.Tier))
	server.AddLogField(r.Context(), "ai_backend", resp.Backend)
	if resp.Fallback {
		server.AddLogField(r.Context(), "ai_fallback", "true")
	}

	server.WriteJSON(w, http.StatusOK, map[string]string{"response": resp.String()})
}
