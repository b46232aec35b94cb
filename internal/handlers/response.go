package handlers

import (
	"encoding/json"
	"net/http"

	"mediaref/internal/logging"
)

// Cache policies for JSON responses.
const (
	cacheNone       = "no-store"
	cacheRevalidate = "no-cache"
)

// writeJSON writes v as a JSON body with the given status. HEAD requests get
// the headers only. Encoding failures are logged; the status is already out
// by then.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, cache string, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	if cache != "" {
		h.Set("Cache-Control", cache)
	}
	w.WriteHeader(status)
	if r != nil && r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func statusBody(status string) map[string]string {
	return map[string]string{"status": status}
}
