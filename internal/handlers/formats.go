package handlers

import (
	"net/http"
)

// GetFormats returns the resolved capability report for every known format.
func (h *Handlers) GetFormats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, h.capabilities.Capabilities())
}
