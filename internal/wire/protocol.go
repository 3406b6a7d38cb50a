package wire

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Close codes observed by peers on the /relay WebSocket.
const (
	CloseNormal              websocket.StatusCode = 1000
	CloseInternalError       websocket.StatusCode = 4000
	CloseNoClientID          websocket.StatusCode = 4001
	CloseNoAuth              websocket.StatusCode = 4002
	CloseNoConnectedGuild    websocket.StatusCode = 4003
	CloseDuplicateConnection websocket.StatusCode = 4004
	CloseServerShutdown      websocket.StatusCode = 4005
)

// Keep-alive message types exchanged with peers.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// requestTypes is the closed set of request types the relay routes.
// For each base type t the response type is t+"-result", except
// get-sheet which answers with get-sheet-response.
var requestTypes = map[string]bool{
	"search": true, "entity": true, "structure": true, "contents": true,
	"create": true, "update": true, "delete": true,
	"rolls": true, "last-roll": true, "roll": true,
	"get-sheet": true, "macro-execute": true, "macros": true,
	"encounters": true, "start-encounter": true, "next-turn": true,
	"next-round": true, "last-turn": true, "last-round": true,
	"end-encounter": true, "add-to-encounter": true, "remove-from-encounter": true,
	"kill": true, "decrease": true, "increase": true, "give": true, "remove": true,
	"execute-js": true, "select": true, "selected": true,
	"file-system": true, "upload-file": true, "download-file": true,
	"get-actor-details": true, "modify-item-charges": true,
	"use-ability": true, "use-feature": true, "use-spell": true, "use-item": true,
	"modify-experience": true, "add-item": true, "remove-item": true,
	"get-folder": true, "create-folder": true, "delete-folder": true,
	"chat-messages": true, "chat": true,
}

// IsRequestType reports whether t is a recognized request type.
func IsRequestType(t string) bool {
	return requestTypes[t]
}

// RequestTypes returns the closed set of routable request types.
func RequestTypes() []string {
	out := make([]string, 0, len(requestTypes))
	for t := range requestTypes {
		out = append(out, t)
	}
	return out
}

// ResponseType maps a request type to the message type a peer answers with.
func ResponseType(t string) string {
	if t == "get-sheet" {
		return "get-sheet-response"
	}
	return t + "-result"
}

// Envelope is the minimal shape every relay message carries. Payloads
// beyond these fields are opaque to the relay.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Decode parses a raw frame into its envelope and the full message map.
func Decode(data []byte) (Envelope, map[string]any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, nil, fmt.Errorf("message missing type")
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode message: %w", err)
	}
	return env, msg, nil
}

// sensitiveKeys are stripped from every payload before it reaches a caller.
var sensitiveKeys = map[string]bool{
	"privateKey": true,
	"apiKey":     true,
	"password":   true,
}

// Sanitize removes known-sensitive keys from a payload, recursing into
// nested objects and arrays. The input map is modified in place.
func Sanitize(msg map[string]any) map[string]any {
	for k, v := range msg {
		if sensitiveKeys[k] {
			delete(msg, k)
			continue
		}
		sanitizeValue(v)
	}
	return msg
}

func sanitizeValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		Sanitize(t)
	case []any:
		for _, e := range t {
			sanitizeValue(e)
		}
	}
}
