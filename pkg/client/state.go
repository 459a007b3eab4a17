package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const currentServerKey = "current_server"

// ServerRecord summarizes how a chat server has behaved for this client
type ServerRecord struct {
	Server        string
	Successes     int64
	Failures      int64
	LastSuccessAt time.Time // zero if it never answered
	LastFailureAt time.Time // zero if it never failed
}

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Transport goroutines share one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// runMigrations brings the schema up to date. Each entry runs once, in order.
func runMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS Config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ServerHistory (
			server_url TEXT PRIMARY KEY,
			successes INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			last_success_at INTEGER NOT NULL DEFAULT 0,
			last_failure_at INTEGER NOT NULL DEFAULT 0
		)`,
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS SchemaVersion (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	err := db.QueryRow("SELECT version FROM SchemaVersion").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO SchemaVersion (version) VALUES (0)"); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := db.Exec("UPDATE SchemaVersion SET version = ?", i+1); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetCurrentServer returns the server that last answered after a failover
func (s *State) GetCurrentServer() string {
	server, _ := s.GetConfig(currentServerKey)
	return server
}

// SetCurrentServer remembers the server that answered
func (s *State) SetCurrentServer(server string) error {
	return s.SetConfig(currentServerKey, server)
}

// RecordServerResult counts a success or failure against server
func (s *State) RecordServerResult(server string, ok bool) error {
	now := time.Now().UnixMilli()
	if ok {
		_, err := s.db.Exec(`
			INSERT INTO ServerHistory (server_url, successes, last_success_at) VALUES (?, 1, ?)
			ON CONFLICT(server_url) DO UPDATE SET successes = successes + 1, last_success_at = excluded.last_success_at
		`, server, now)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO ServerHistory (server_url, failures, last_failure_at) VALUES (?, 1, ?)
		ON CONFLICT(server_url) DO UPDATE SET failures = failures + 1, last_failure_at = excluded.last_failure_at
	`, server, now)
	return err
}

// ServerHistory returns every recorded server, most recently successful first
func (s *State) ServerHistory() ([]ServerRecord, error) {
	rows, err := s.db.Query(`
		SELECT server_url, successes, failures, last_success_at, last_failure_at
		FROM ServerHistory
		ORDER BY last_success_at DESC, server_url
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ServerRecord
	for rows.Next() {
		var r ServerRecord
		var lastSuccess, lastFailure int64
		if err := rows.Scan(&r.Server, &r.Successes, &r.Failures, &lastSuccess, &lastFailure); err != nil {
			return nil, err
		}
		if lastSuccess > 0 {
			r.LastSuccessAt = time.UnixMilli(lastSuccess)
		}
		if lastFailure > 0 {
			r.LastFailureAt = time.UnixMilli(lastFailure)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
