package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iconidentify/canvasgrab/internal/credentials"
	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/service"
)

// Extension message actions.
const (
	ActionMediaDetected  = "mediaDetected"
	ActionGetMediaList   = "getMediaList"
	ActionDownloadMedia  = "downloadMedia"
	ActionClearMediaList = "clearMediaList"
)

// ExtensionHandler handles the endpoints the browser extension talks to.
type ExtensionHandler struct {
	media  *service.MediaService
	creds  *credentials.Store
	logger *slog.Logger
}

// NewExtensionHandler creates a new extension handler.
func NewExtensionHandler(media *service.MediaService, creds *credentials.Store, logger *slog.Logger) *ExtensionHandler {
	return &ExtensionHandler{
		media:  media,
		creds:  creds,
		logger: logger,
	}
}

// MessageRequest is a runtime message relayed by the extension.
type MessageRequest struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// MediaListResponse answers getMediaList.
type MediaListResponse struct {
	MediaURLs    []string `json:"mediaUrls"`
	AutoDownload bool     `json:"autoDownload"`
}

// Message handles POST /api/v1/extension/messages
func (h *ExtensionHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case ActionMediaDetected:
		cand, err := domain.NewCandidate(req.URL, domain.SourceType(req.Type), req.Filename)
		if err != nil {
			h.writeJSON(w, http.StatusOK, service.Ack{
				Success: false,
				Reason:  service.ReasonInvalidURL,
				Message: err.Error(),
			})
			return
		}
		h.writeJSON(w, http.StatusOK, h.media.HandleDetection(r.Context(), cand))

	case ActionGetMediaList:
		urls, auto := h.media.MediaList()
		h.writeJSON(w, http.StatusOK, MediaListResponse{
			MediaURLs:    urls,
			AutoDownload: auto,
		})

	case ActionDownloadMedia:
		h.writeJSON(w, http.StatusOK, h.media.Download(r.Context(), req.URL, req.Filename))

	case ActionClearMediaList:
		h.media.Clear()
		h.writeJSON(w, http.StatusOK, service.Ack{Success: true})

	default:
		h.writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

// HTTPHeader is one response header as reported by the extension's
// network observer.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NetworkRequest is a completed network request seen by the extension.
type NetworkRequest struct {
	URL             string       `json:"url"`
	StatusCode      int          `json:"statusCode"`
	ResponseHeaders []HTTPHeader `json:"responseHeaders,omitempty"`
}

// Network handles POST /api/v1/extension/network
func (h *ExtensionHandler) Network(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	headers := make(http.Header, len(req.ResponseHeaders))
	for _, hdr := range req.ResponseHeaders {
		headers.Add(hdr.Name, hdr.Value)
	}

	h.writeJSON(w, http.StatusOK, h.media.HandleNetworkResponse(r.Context(), service.Observation{
		URL:        req.URL,
		StatusCode: req.StatusCode,
		Headers:    headers,
	}))
}

// SyncCredentialsRequest is the request body for syncing browser cookies.
type SyncCredentialsRequest struct {
	Host      string     `json:"host"`
	Cookies   string     `json:"cookies"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SyncCredentialsResponse is the response for credential sync.
type SyncCredentialsResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncCredentials handles POST /api/v1/extension/credentials
// Receives the cookies the browser holds for a media host.
func (h *ExtensionHandler) SyncCredentials(w http.ResponseWriter, r *http.Request) {
	var req SyncCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Host) == "" || req.Cookies == "" {
		h.writeError(w, http.StatusBadRequest, "host and cookies are required")
		return
	}

	// No secrets in logs, only sizes.
	h.logger.Info("extension credentials received",
		"remote_addr", r.RemoteAddr,
		"host", req.Host,
		"cookie_string_len", len(req.Cookies),
		"has_expiry", req.ExpiresAt != nil,
	)

	creds := credentials.BrowserCredentials{
		Host:    req.Host,
		Cookies: req.Cookies,
	}
	if req.ExpiresAt != nil {
		creds.ExpiresAt = *req.ExpiresAt
	}
	h.creds.Set(creds)

	h.writeJSON(w, http.StatusOK, SyncCredentialsResponse{
		Status:  "ok",
		Message: "credentials synced successfully",
	})
}

// CredentialsStatusResponse is the response for credential status.
type CredentialsStatusResponse struct {
	HasCredentials bool                 `json:"has_credentials"`
	Hosts          []credentials.Status `json:"hosts"`
}

// CredentialsStatus handles GET /api/v1/extension/credentials/status
func (h *ExtensionHandler) CredentialsStatus(w http.ResponseWriter, r *http.Request) {
	hosts := h.creds.Status()

	resp := CredentialsStatusResponse{Hosts: hosts}
	for _, s := range hosts {
		if !s.IsExpired {
			resp.HasCredentials = true
			break
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ClearCredentials handles POST /api/v1/extension/credentials/clear
func (h *ExtensionHandler) ClearCredentials(w http.ResponseWriter, r *http.Request) {
	h.creds.Clear()
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *ExtensionHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *ExtensionHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
