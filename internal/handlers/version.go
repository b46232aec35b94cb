package handlers

import (
	"net/http"

	"mediaref/internal/startup"
)

// GetVersion reports the build: version, commit and Go toolchain.
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, cacheRevalidate, startup.GetBuildInfo())
}
