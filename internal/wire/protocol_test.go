package wire

import (
	"testing"
)

func TestDecode(t *testing.T) {
	env, msg, err := Decode([]byte(`{"type":"roll-result","requestId":"roll_123","formula":"1d20"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "roll-result" {
		t.Errorf("type = %q, want roll-result", env.Type)
	}
	if env.RequestID != "roll_123" {
		t.Errorf("requestId = %q, want roll_123", env.RequestID)
	}
	if msg["formula"] != "1d20" {
		t.Errorf("formula = %v, want 1d20", msg["formula"])
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, _, err := Decode([]byte(`{"requestId":"x"}`)); err == nil {
		t.Error("expected error for message without type")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestResponseType(t *testing.T) {
	if got := ResponseType("roll"); got != "roll-result" {
		t.Errorf("ResponseType(roll) = %q", got)
	}
	// get-sheet is the one type that does not follow the -result convention
	if got := ResponseType("get-sheet"); got != "get-sheet-response" {
		t.Errorf("ResponseType(get-sheet) = %q", got)
	}
}

func TestIsRequestType(t *testing.T) {
	for _, typ := range []string{"roll", "search", "download-file", "end-encounter"} {
		if !IsRequestType(typ) {
			t.Errorf("expected %q to be a request type", typ)
		}
	}
	for _, typ := range []string{"ping", "pong", "roll-result", ""} {
		if IsRequestType(typ) {
			t.Errorf("did not expect %q to be a request type", typ)
		}
	}
}

func TestSanitize(t *testing.T) {
	msg := map[string]any{
		"result":     42,
		"apiKey":     "secret",
		"privateKey": "secret",
		"nested": map[string]any{
			"password": "hunter2",
			"name":     "ok",
		},
		"list": []any{
			map[string]any{"apiKey": "secret", "id": "a"},
		},
	}
	out := Sanitize(msg)
	if _, ok := out["apiKey"]; ok {
		t.Error("apiKey not stripped")
	}
	if _, ok := out["privateKey"]; ok {
		t.Error("privateKey not stripped")
	}
	nested := out["nested"].(map[string]any)
	if _, ok := nested["password"]; ok {
		t.Error("nested password not stripped")
	}
	if nested["name"] != "ok" {
		t.Error("non-sensitive nested key lost")
	}
	item := out["list"].([]any)[0].(map[string]any)
	if _, ok := item["apiKey"]; ok {
		t.Error("apiKey in array element not stripped")
	}
	if item["id"] != "a" {
		t.Error("non-sensitive array key lost")
	}
}
