package dashboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
)

// KeepAlive is the interval between SSE comment frames.
var KeepAlive = 25 * time.Second

// Handler exposes the dashboard over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the dashboard endpoints.
func (h *Handler) Routes() []server.HandlerRegistration {
	return []server.HandlerRegistration{
		{Path: "/api/dashboard", Method: http.MethodGet, Handler: h.HandleSnapshot},
		{Path: "/api/dashboard/refresh", Method: http.MethodPost, Handler: h.HandleRefresh},
		{Path: "/api/dashboard/events", Method: http.MethodGet, Handler: h.HandleEvents},
	}
}

func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, h.svc.Snapshot())
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, h.svc.Refresh(r.Context()))
}

// HandleEvents streams snapshots as server-sent events, starting with the
// current one.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		server.WriteError(w, r, domain.ErrServer("Streaming not supported"))
		return
	}

	updates, unsubscribe := h.svc.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.sendSSEEvent(w, flusher, h.svc.Snapshot())

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			h.sendSSEEvent(w, flusher, snap)
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func (h *Handler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("failed to marshal snapshot", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data)
	flusher.Flush()
}
