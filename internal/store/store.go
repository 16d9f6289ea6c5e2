package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Persisted state keys.
const (
	KeyWebhookURL          = "webhookUrl"
	KeyEnableNotifications = "enableNotifications"
	KeyEnableScreenshots   = "enableScreenshots"
	KeyIncludeSymbol       = "includeSymbol"
	KeyIncludeTime         = "includeTime"
	KeySymbolPositions     = "symbolPositions"
	KeyTradedSymbols       = "tradedSymbols"
)

// Store is a SQLite-backed key-value store for settings and ledger state.
// Values are stored as JSON. Persistence is best-effort: callers log write
// failures and keep going with in-memory state.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

func Open(logger *zap.Logger, path string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	s := &Store{logger: logger, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

// Get loads and unmarshals the value for key into out. Returns false when
// the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load key %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode key %q: %w", key, err)
	}
	return true, nil
}

// Set marshals and stores the value for key.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode key %q: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
