package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
)

// Handler serves POST /api/checkout.
type Handler struct {
	svc *Service
}

// NewHandler creates a handler for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), &req)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "checkout_session", sess.ID)
	server.WriteJSON(w, http.StatusOK, map[string]string{"id": sess.ID})
}
