package handlers

import (
	"errors"
	"net/http"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/sysconfig"
)

// GetSystemConfig returns the effective system config.
func (h *Handlers) GetSystemConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.config.GetConfig(r.Context())
	if err != nil {
		logging.Error("Failed to load system config: %v", err)
		writeJSONError(w, "failed to load system config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetSystemConfigDefaults returns the built-in defaults.
func (h *Handlers) GetSystemConfigDefaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.config.GetDefaults())
}

// UpdateSystemConfig replaces the system config with the request body.
// Missing fields take their default value.
func (h *Handlers) UpdateSystemConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.GetDefaults()
	if err := decodeJSON(r, &cfg); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.config.UpdateConfig(r.Context(), cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, sysconfig.ErrReadOnly):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, sysconfig.ErrInvalidConfig):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		logging.Error("Failed to update system config: %v", err)
		writeJSONError(w, "failed to update system config", http.StatusInternalServerError)
	}
}
