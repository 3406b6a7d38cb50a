package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/wire"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// relayEndpoint builds the HTTP handler for one request type. The
// handler authenticates the caller, assembles the opaque payload from
// body and query, dispatches, and shapes the peer's answer.
func (s *Server) relayEndpoint(requestType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		apiKey := r.Header.Get("x-api-key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "Missing API key")
			return
		}

		payload := make(map[string]any)
		q := r.URL.Query()
		clientID := q.Get("clientId")

		if r.Method == http.MethodPost && r.Body != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			for k, v := range body {
				if k == "clientId" {
					if clientID == "" {
						if id, ok := v.(string); ok {
							clientID = id
						}
					}
					continue
				}
				payload[k] = v
			}
		}

		// Query parameters ride along as payload fields; body wins on conflict.
		for k := range q {
			if k == "clientId" {
				continue
			}
			if _, exists := payload[k]; !exists {
				payload[k] = q.Get(k)
			}
		}

		if clientID == "" {
			writeError(w, http.StatusBadRequest, "Missing client ID")
			return
		}

		hints := ShapeHints{
			Format:    q.Get("format"),
			ActiveTab: q.Get("activeTab"),
		}

		result, err := s.Dispatch(r.Context(), RelayRequest{
			Type:     requestType,
			APIKey:   apiKey,
			ClientID: clientID,
			Payload:  payload,
			Hints:    hints,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				writeError(w, http.StatusNotFound, "Invalid client ID")
			case errors.Is(err, ErrTimeout):
				writeError(w, http.StatusRequestTimeout, "Request timed out")
			default:
				writeError(w, httpStatus(err), err.Error())
			}
			return
		}

		// Peers report request-level failures as an error field in the
		// reply. The body keeps requestId and clientId so the caller can
		// still correlate the failure.
		if errMsg, ok := result["error"].(string); ok && errMsg != "" {
			s.writeRelayResponse(w, peerErrorStatus(errMsg), result, clientID)
			return
		}

		switch requestType {
		case "get-sheet":
			s.writeSheetResponse(w, result, hints, clientID)
		case "download-file":
			s.writeDownloadResponse(w, result, hints, clientID)
		default:
			s.writeRelayResponse(w, http.StatusOK, result, clientID)
		}
	})
}

// writeRelayResponse emits the standard JSON shape: the sanitized peer
// payload with clientId attached and the wire type stripped.
func (s *Server) writeRelayResponse(w http.ResponseWriter, status int, result map[string]any, clientID string) {
	delete(result, "type")
	result["clientId"] = clientID
	writeJSON(w, status, wire.Sanitize(result))
}

// writeSheetResponse serves a rendered sheet. format=json returns the
// raw payload; the default serves the HTML document, with the requested
// tab activated when the caller asked for one.
func (s *Server) writeSheetResponse(w http.ResponseWriter, result map[string]any, hints ShapeHints, clientID string) {
	if hints.Format == "json" {
		s.writeRelayResponse(w, http.StatusOK, result, clientID)
		return
	}
	html, ok := result["html"].(string)
	if !ok {
		s.writeRelayResponse(w, http.StatusOK, result, clientID)
		return
	}
	if hints.ActiveTab != "" {
		html = activateSheetTab(html, hints.ActiveTab)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

// writeDownloadResponse converts a fileData data-URL payload into a
// binary body with download headers when the caller asked for
// format=binary or format=raw. Otherwise the JSON passes through with
// the data URL intact.
func (s *Server) writeDownloadResponse(w http.ResponseWriter, result map[string]any, hints ShapeHints, clientID string) {
	dataURL, ok := result["fileData"].(string)
	if !ok || (hints.Format != "binary" && hints.Format != "raw") {
		s.writeRelayResponse(w, http.StatusOK, result, clientID)
		return
	}
	urlMime, data, err := decodeDataURL(dataURL)
	if err != nil {
		logger.Warn("download decode failed", "clientId", clientID, "err", err)
		s.writeRelayResponse(w, http.StatusOK, result, clientID)
		return
	}
	mimeType, _ := result["mimeType"].(string)
	if mimeType == "" {
		mimeType = urlMime
	}
	filename, _ := result["filename"].(string)
	if filename == "" {
		if p, ok := result["path"].(string); ok {
			if i := strings.LastIndexByte(p, '/'); i >= 0 {
				filename = p[i+1:]
			} else {
				filename = p
			}
		}
	}
	if filename == "" {
		filename = "download"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// clientInfo is one row of GET /clients.
type clientInfo struct {
	ID             string `json:"id"`
	Instance       string `json:"instance"`
	WorldID        string `json:"worldId,omitempty"`
	WorldTitle     string `json:"worldTitle,omitempty"`
	FoundryVersion string `json:"foundryVersion,omitempty"`
	SystemID       string `json:"systemId,omitempty"`
	SystemTitle    string `json:"systemTitle,omitempty"`
	SystemVersion  string `json:"systemVersion,omitempty"`
	CustomName     string `json:"customName,omitempty"`
	ConnectedSince int64  `json:"connectedSince,omitempty"`
	LastSeen       int64  `json:"lastSeen,omitempty"`
}

// handleClients lists the connected clients for the caller's API key,
// merging local sessions with directory records from other replicas.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return
	}
	if err := s.Auth.ValidateKey(r.Context(), apiKey); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	seen := make(map[string]bool)
	clients := []clientInfo{}

	for _, sess := range s.Clients.ListForKey(apiKey) {
		seen[sess.ClientID] = true
		clients = append(clients, clientInfo{
			ID:             sess.ClientID,
			Instance:       s.InstanceID,
			WorldID:        sess.Meta.WorldID,
			WorldTitle:     sess.Meta.WorldTitle,
			FoundryVersion: sess.Meta.FoundryVersion,
			SystemID:       sess.Meta.SystemID,
			SystemTitle:    sess.Meta.SystemTitle,
			SystemVersion:  sess.Meta.SystemVersion,
			CustomName:     sess.Meta.CustomName,
			ConnectedSince: sess.ConnectedSince.UnixMilli(),
			LastSeen:       sess.LastSeen().UnixMilli(),
		})
	}

	for _, id := range s.Directory.ClientsForKey(r.Context(), apiKey) {
		if seen[id] {
			continue
		}
		meta := s.Directory.Meta(r.Context(), id)
		if meta == nil {
			continue
		}
		info := clientInfo{
			ID:             id,
			Instance:       meta["instance"],
			WorldID:        meta["worldId"],
			WorldTitle:     meta["worldTitle"],
			FoundryVersion: meta["foundryVersion"],
			SystemID:       meta["systemId"],
			SystemTitle:    meta["systemTitle"],
			SystemVersion:  meta["systemVersion"],
			CustomName:     meta["customName"],
		}
		if ms, err := strconv.ParseInt(meta["connectedSince"], 10, 64); err == nil {
			info.ConnectedSince = ms
		}
		if ms, err := strconv.ParseInt(meta["lastSeen"], 10, 64); err == nil {
			info.LastSeen = ms
		}
		clients = append(clients, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(clients),
		"clients": clients,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   Version,
		"websocket": "/relay",
		"instance":  s.InstanceID,
		"clients":   s.Clients.Count(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthToken exchanges a valid API key for a signed peer JWT, which
// peers may present at the WS handshake instead of the raw key.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.jwtSecret == nil {
		writeError(w, http.StatusServiceUnavailable, "token exchange not configured")
		return
	}

	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		var body struct {
			APIKey string `json:"apiKey"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		apiKey = body.APIKey
	}
	if err := s.Auth.ValidateKey(r.Context(), apiKey); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	token, exp, err := IssuePeerJWT(s.jwtSecret, apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": exp.Format(time.RFC3339),
	})
}

// adminAuthorized checks the admin token on key-management endpoints.
// With no admin token configured the endpoints are disabled outright.
func (s *Server) adminAuthorized(r *http.Request) bool {
	if s.Config.AdminToken == "" {
		return false
	}
	token := r.Header.Get("x-admin-token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return token == s.Config.AdminToken
}

// handleAuthKeys provisions (POST) and lists (GET) API keys.
func (s *Server) handleAuthKeys(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "admin token required")
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "key store not configured")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var body struct {
			Label string `json:"label"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		key, err := s.Store.CreateAPIKey(body.Label)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "key creation failed")
			return
		}
		logger.Info("api key created", "label", body.Label)
		writeJSON(w, http.StatusCreated, map[string]string{
			"key":   key,
			"label": body.Label,
		})

	case http.MethodGet:
		keys, err := s.Store.ListAPIKeys()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "key listing failed")
			return
		}
		if keys == nil {
			keys = []APIKeyRow{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAuthKeyByID disables one key: DELETE /auth/keys/{key}.
func (s *Server) handleAuthKeyByID(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "admin token required")
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "key store not configured")
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/auth/keys/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}
	if err := s.Store.DisableAPIKey(key); err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	logger.Info("api key disabled")
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}
