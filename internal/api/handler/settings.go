package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iconidentify/canvasgrab/internal/settings"
)

// SettingsHandler exposes the persisted extension settings.
type SettingsHandler struct {
	store  *settings.Store
	logger *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(store *settings.Store, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger,
	}
}

// SettingsResponse is the JSON view of the settings.
type SettingsResponse struct {
	AutoDownload bool `json:"autoDownload"`
}

// UpdateSettingsRequest is the body of PUT /settings. Omitted fields are unchanged.
type UpdateSettingsRequest struct {
	AutoDownload *bool `json:"autoDownload"`
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, SettingsResponse{AutoDownload: h.store.AutoDownload()})
}

// Update handles PUT /api/v1/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AutoDownload != nil {
		if err := h.store.SetAutoDownload(r.Context(), *req.AutoDownload); err != nil {
			h.logger.Error("failed to save settings", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	h.writeJSON(w, http.StatusOK, SettingsResponse{AutoDownload: h.store.AutoDownload()})
}

func (h *SettingsHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SettingsHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
