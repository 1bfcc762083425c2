package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandlerRegistration is one route a feature package contributes.
type HandlerRegistration struct {
	Path    string
	Method  string // POST when empty
	Handler http.HandlerFunc
}

// Register mounts regs on r.
func Register(r chi.Router, logger *slog.Logger, regs []HandlerRegistration) {
	for _, reg := range regs {
		method := reg.Method
		if method == "" {
			method = http.MethodPost
		}
		r.Method(method, reg.Path, reg.Handler)
		logger.Debug("route mounted", slog.String("method", method), slog.String("path", reg.Path))
	}
}
