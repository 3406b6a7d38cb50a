package relay

import (
	"testing"
	"time"
)

func TestAPIKeyLifecycle(t *testing.T) {
	s := testStore(t)

	key, err := s.CreateAPIKey("test key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ValidateAPIKey(key); err != nil {
		t.Fatalf("validate fresh key: %v", err)
	}

	keys, err := s.ListAPIKeys()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != key || keys[0].Label != "test key" {
		t.Errorf("unexpected listing: %+v", keys)
	}

	if err := s.DisableAPIKey(key); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := s.ValidateAPIKey(key); err == nil {
		t.Error("disabled key should not validate")
	}

	// The row survives disabling for the audit trail.
	keys, _ = s.ListAPIKeys()
	if len(keys) != 1 || !keys[0].Disabled {
		t.Errorf("expected one disabled row, got %+v", keys)
	}
}

func TestValidateAPIKeyRejects(t *testing.T) {
	s := testStore(t)
	if err := s.ValidateAPIKey(""); err == nil {
		t.Error("empty key should not validate")
	}
	if err := s.ValidateAPIKey("never-created"); err == nil {
		t.Error("unknown key should not validate")
	}
}

func TestDisableUnknownKey(t *testing.T) {
	s := testStore(t)
	if err := s.DisableAPIKey("nope"); err == nil {
		t.Error("expected error disabling unknown key")
	}
}

func TestRelayConfigRoundTrip(t *testing.T) {
	s := testStore(t)

	val, err := s.GetRelayConfig("missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}

	if err := s.SetRelayConfig("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetRelayConfig("k", "v2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	val, _ = s.GetRelayConfig("k")
	if val != "v2" {
		t.Errorf("value = %q, want v2", val)
	}
}

func TestAppendRequestLog(t *testing.T) {
	s := testStore(t)
	s.AppendRequestLog("roll", "c1", "secret-key", "ok", 42*time.Millisecond)

	var count int
	var keyHash string
	err := s.DB().QueryRow("SELECT COUNT(*), MAX(key_hash) FROM request_log").Scan(&count, &keyHash)
	if err != nil {
		t.Fatalf("query log: %v", err)
	}
	if count != 1 {
		t.Errorf("log rows = %d, want 1", count)
	}
	if keyHash == "secret-key" || keyHash == "" {
		t.Errorf("key_hash = %q, raw keys must not be stored", keyHash)
	}
}

func TestGenerateOrLoadSecret(t *testing.T) {
	s := testStore(t)

	first, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first) != 32 {
		t.Errorf("secret length = %d, want 32", len(first))
	}

	second, err := GenerateOrLoadSecret(s, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(first) != string(second) {
		t.Error("secret should be stable across loads")
	}

	// Env value wins over the stored one.
	env, err := GenerateOrLoadSecret(s, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if err != nil {
		t.Fatalf("env secret: %v", err)
	}
	if string(env) == string(first) {
		t.Error("env secret should override stored secret")
	}
}
