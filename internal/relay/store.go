package relay

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists API keys, relay config, and the request audit log.
type Store struct {
	db *sql.DB
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	key        TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	disabled   INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS relay_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS request_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at);
`

func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// APIKeyRow is one provisioned API key.
type APIKeyRow struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Disabled  bool   `json:"disabled"`
	CreatedAt string `json:"created_at"`
}

// CreateAPIKey provisions a new key and returns it.
func (s *Store) CreateAPIKey(label string) (string, error) {
	key := uuid.New().String()
	_, err := s.db.Exec("INSERT INTO api_keys (key, label) VALUES (?, ?)", key, label)
	if err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}

// InsertAPIKey records an externally supplied key (used by tests and
// seeded deployments).
func (s *Store) InsertAPIKey(key, label string) error {
	_, err := s.db.Exec("INSERT INTO api_keys (key, label) VALUES (?, ?)", key, label)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// DisableAPIKey marks a key unusable without losing its audit trail.
func (s *Store) DisableAPIKey(key string) error {
	res, err := s.db.Exec("UPDATE api_keys SET disabled = 1 WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("disable api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key not found")
	}
	return nil
}

// ValidateAPIKey returns nil only for a known, enabled key.
func (s *Store) ValidateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty api key")
	}
	var disabled bool
	err := s.db.QueryRow("SELECT disabled FROM api_keys WHERE key = ?", key).Scan(&disabled)
	if err == sql.ErrNoRows {
		return fmt.Errorf("unknown api key")
	}
	if err != nil {
		return fmt.Errorf("validate api key: %w", err)
	}
	if disabled {
		return fmt.Errorf("api key disabled")
	}
	return nil
}

func (s *Store) ListAPIKeys() ([]APIKeyRow, error) {
	rows, err := s.db.Query("SELECT key, label, disabled, created_at FROM api_keys ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	var out []APIKeyRow
	for rows.Next() {
		var r APIKeyRow
		if err := rows.Scan(&r.Key, &r.Label, &r.Disabled, &r.CreatedAt); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRelayConfig reads a config value; empty string when absent.
func (s *Store) GetRelayConfig(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM relay_config WHERE key = ?", key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get relay config: %w", err)
	}
	return val, nil
}

func (s *Store) SetRelayConfig(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO relay_config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value,
	)
	if err != nil {
		return fmt.Errorf("set relay config: %w", err)
	}
	return nil
}

// AppendRequestLog records a dispatched request. Best-effort: failures
// are swallowed, the audit trail never blocks the relay path.
func (s *Store) AppendRequestLog(requestType, clientID, apiKey, outcome string, latency time.Duration) {
	s.db.Exec(
		"INSERT INTO request_log (type, client_id, key_hash, outcome, latency_ms) VALUES (?, ?, ?, ?, ?)",
		requestType, clientID, hashKey(apiKey), outcome, latency.Milliseconds(),
	)
}

// hashKey stores a short digest so the log never contains raw keys.
func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
