// Package remote provides the SQLite-backed sync store.
//
// The store keeps every pushed revision of every resource, identified by a
// per-resource monotonically increasing version ref, together with a single
// session row. The session id changes whenever the store is reset, which is
// how other machines detect that their persisted session has expired.
//
// The database runs in embedded mode using SQLite with WAL for concurrent
// access, the same arrangement used for any machine-local store that several
// processes may read at once.
package remote

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/prefsync/prefsync/internal/userdata"
)

// Config holds store configuration.
type Config struct {
	// Enabled gates every sync operation. Disabling it makes the
	// orchestrator fail fast without touching any synchroniser.
	Enabled bool

	// MaxStoreSize caps the total stored content in bytes. Writes that
	// would exceed the cap fail with userdata.ErrTooLarge.
	MaxStoreSize int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		MaxStoreSize: 10 << 20, // 10 MiB
	}
}

// Store is the SQLite-backed sync store. It implements both the
// orchestrator's userdata.RemoteStore contract and the content read/write
// operations the synchronisers use.
type Store struct {
	conn *sql.DB
	path string
	cfg  *Config

	mu         sync.Mutex
	configured bool
}

// Open creates a store connection at the specified path.
//
// The caller MUST call Close() when done. Use InitSchema() before first
// use; until then the store reports itself unconfigured.
func Open(path string, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{
		conn: conn,
		path: path,
		cfg:  cfg,
	}

	// WAL allows concurrent readers during writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Close closes the store connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the store schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		session_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resources (
		key TEXT NOT NULL,
		ref INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (key, ref)
	);

	CREATE INDEX IF NOT EXISTS idx_resources_key ON resources(key, ref DESC);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}

	s.mu.Lock()
	s.configured = true
	s.mu.Unlock()
	return nil
}

// IsEnabled implements userdata.RemoteStore.
func (s *Store) IsEnabled() bool {
	return s.cfg.Enabled
}

// IsConfigured implements userdata.RemoteStore. The store is configured
// once its schema exists.
func (s *Store) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configured {
		return true
	}

	var n int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'resources'`,
	).Scan(&n)
	if err != nil {
		return false
	}
	s.configured = n > 0
	return s.configured
}

// Manifest implements userdata.RemoteStore. It returns nil when the store
// holds no resource data at all.
func (s *Store) Manifest(ctx context.Context) (*userdata.Manifest, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key, MAX(ref) FROM resources GROUP BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest refs: %w", err)
	}
	defer rows.Close()

	latest := make(map[userdata.ResourceKey]string)
	for rows.Next() {
		var key string
		var ref int64
		if err := rows.Scan(&key, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan latest ref: %w", err)
		}
		latest[userdata.ResourceKey(key)] = strconv.FormatInt(ref, 10)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate latest refs: %w", err)
	}

	if len(latest) == 0 {
		return nil, nil
	}

	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return nil, err
	}

	return &userdata.Manifest{
		SessionID: sessionID,
		Latest:    latest,
	}, nil
}

// Latest returns the newest content and its ref for the given resource.
// Both return values are empty when the resource has never been written.
func (s *Store) Latest(ctx context.Context, key userdata.ResourceKey) (content, ref string, err error) {
	var (
		raw string
		n   int64
	)
	row := s.conn.QueryRowContext(ctx,
		`SELECT content, ref FROM resources WHERE key = ? ORDER BY ref DESC LIMIT 1`,
		string(key))
	switch err := row.Scan(&raw, &n); {
	case err == sql.ErrNoRows:
		return "", "", nil
	case err != nil:
		return "", "", fmt.Errorf("failed to read latest %s: %w", key, err)
	}
	return raw, strconv.FormatInt(n, 10), nil
}

// Content returns the content stored under the given ref, or the empty
// string if absent.
func (s *Store) Content(ctx context.Context, key userdata.ResourceKey, ref string) (string, error) {
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid ref %q: %w", ref, err)
	}

	var raw string
	row := s.conn.QueryRowContext(ctx,
		`SELECT content FROM resources WHERE key = ? AND ref = ?`, string(key), n)
	switch err := row.Scan(&raw); {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to read %s@%s: %w", key, ref, err)
	}
	return raw, nil
}

// Write stores content as the next revision of the given resource and
// returns the new ref. The first write of a fresh store also creates the
// session. Writes that would push the store over its size cap fail with
// userdata.ErrTooLarge.
func (s *Store) Write(ctx context.Context, key userdata.ResourceKey, content string) (string, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	var total int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(content)), 0) FROM resources`).Scan(&total); err != nil {
		return "", fmt.Errorf("failed to measure store size: %w", err)
	}
	if s.cfg.MaxStoreSize > 0 && total+int64(len(content)) > s.cfg.MaxStoreSize {
		return "", fmt.Errorf("store size %d exceeds limit %d: %w",
			total+int64(len(content)), s.cfg.MaxStoreSize, userdata.ErrTooLarge)
	}

	if err := ensureSession(ctx, tx); err != nil {
		return "", err
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ref), 0) + 1 FROM resources WHERE key = ?`,
		string(key)).Scan(&next); err != nil {
		return "", fmt.Errorf("failed to allocate ref: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO resources (key, ref, content, created_at) VALUES (?, ?, ?, ?)`,
		string(key), next, content, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit write: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}

// Reset implements userdata.RemoteStore. It drops all resource data and
// the session; the next write starts a fresh session.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM resources`); err != nil {
		return fmt.Errorf("failed to clear resources: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}

// sessionID returns the current session id, creating one if the store has
// resources but no session row (which only happens with hand-edited
// stores).
func (s *Store) sessionID(ctx context.Context) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx, `SELECT session_id FROM session WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("failed to begin session creation: %w", err)
		}
		defer tx.Rollback()
		if err := ensureSession(ctx, tx); err != nil {
			return "", err
		}
		if err := tx.QueryRowContext(ctx, `SELECT session_id FROM session WHERE id = 1`).Scan(&id); err != nil {
			return "", fmt.Errorf("failed to read session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit session creation: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	return id, nil
}

// ensureSession inserts the session row if it doesn't exist yet.
func ensureSession(ctx context.Context, tx *sql.Tx) error {
	id, err := newSessionID()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session (id, session_id, created_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// newSessionID generates a random 128-bit hex session id.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
