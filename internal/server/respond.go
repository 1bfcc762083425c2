package server

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and writes {"error": message}.
// The error is also attached to the request log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	AddError(r.Context(), err)
	if apiErr.Code != "" {
		AddLogField(r.Context(), "error_code", string(apiErr.Code))
	}
	WriteJSON(w, apiErr.HTTPStatusCode(), map[string]string{"error": apiErr.Message})
}
