package leads

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
)

// Namespace is the REST prefix the CMS plugin exposes.
const Namespace = "/wp-json/enterprise-crm/v1"

// Handler serves the lead-ingestion routes.
type Handler struct {
	svc *Service
}

// NewHandler creates a handler for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns the handlers, relative to Namespace.
func (h *Handler) Routes() []server.HandlerRegistration {
	return []server.HandlerRegistration{
		{Method: http.MethodPost, Path: "/leads", Handler: h.handleLead},
		{Method: http.MethodPost, Path: "/funnels/{id}/trigger", Handler: h.handleTrigger},
		{Method: http.MethodGet, Path: "/templates", Handler: h.handleTemplates},
		{Method: http.MethodGet, Path: "/analytics", Handler: h.handleAnalytics},
	}
}

type leadResponse struct {
	Success   bool   `json:"success"`
	ContactID string `json:"contact_id"`
	Action    Action `json:"action"`
}

func (h *Handler) handleLead(w http.ResponseWriter, r *http.Request) {
	var in LeadInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		server.WriteError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	res, err := h.svc.SubmitLead(r.Context(), &in)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "contact_id", res.Contact.ID)
	server.AddLogField(r.Context(), "lead_action", string(res.Action))

	status := http.StatusCreated
	if res.Action == ActionUpdated {
		status = http.StatusOK
	}
	server.WriteJSON(w, status, &leadResponse{Success: true, ContactID: res.Contact.ID, Action: res.Action})
}

type triggerResponse struct {
	Success   bool   `json:"success"`
	FunnelID  string `json:"funnel_id"`
	ContactID string `json:"contact_id"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var in TriggerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		server.WriteError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	funnel, contact, err := h.svc.TriggerFunnel(r.Context(), chi.URLParam(r, "id"), &in)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "funnel_id", funnel.ID)
	server.WriteJSON(w, http.StatusAccepted, &triggerResponse{Success: true, FunnelID: funnel.ID, ContactID: contact.ID})
}

func (h *Handler) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.Templates(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Analytics(r.Context())
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, a)
}
