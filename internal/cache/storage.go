package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNoCache is returned when writing to a cache that does not exist,
	// typically because it was evicted.
	ErrNoCache = errors.New("cache does not exist")

	// ErrClosed is returned by operations on a closed Storage.
	ErrClosed = errors.New("cache storage closed")
)

// Storage is a set of named caches in one SQLite database.
type Storage struct {
	conn   *sql.DB
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the cache database at path.
//
// The caller MUST call Close() when done.
func Open(path string, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}
	conn.SetMaxOpenConns(4)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Storage{conn: conn, logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS caches (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		cache TEXT NOT NULL,
		key TEXT NOT NULL,
		status INTEGER NOT NULL,
		header TEXT NOT NULL,
		body BLOB NOT NULL,
		stored_at TEXT NOT NULL,
		PRIMARY KEY (cache, key)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	return nil
}

func (s *Storage) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Names lists every cache, oldest first.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM caches ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Has reports whether the named cache exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up cache %s: %w", name, err)
	}
	return n > 0, nil
}

// Delete drops the named cache and its entries. It reports whether the
// cache existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache = ?`, name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete of %s: %w", name, err)
	}
	return n > 0, nil
}

// Open returns the named cache, creating it empty if needed.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, now())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return &Cache{storage: s, name: name}, nil
}

// Populate replaces the contents of the named cache with entries in a
// single transaction. Either every entry is stored or the database is left
// as it was.
func (s *Storage) Populate(ctx context.Context, name string, entries map[string]*Entry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`, name, now()); err != nil {
		return fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache = ?`, name); err != nil {
		return fmt.Errorf("failed to clear cache %s: %w", name, err)
	}
	for key, e := range entries {
		if err := putEntry(ctx, tx, name, key, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache %s: %w", name, err)
	}
	return nil
}

// Match looks key up in every cache, oldest first, and returns the first
// hit. A miss returns (nil, nil).
func (s *Storage) Match(ctx context.Context, key string) (*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.conn.QueryRowContext(ctx, `
		SELECT e.status, e.header, e.body, e.stored_at
		FROM entries e JOIN caches c ON c.name = e.cache
		WHERE e.key = ?
		ORDER BY c.created_at, c.name
		LIMIT 1`, key)
	return scanEntry(row)
}

// SetMeta stores a metadata value.
func (s *Storage) SetMeta(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Meta returns a metadata value, or "" if unset.
func (s *Storage) Meta(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Cache is one named cache.
type Cache struct {
	storage *Storage
	name    string
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Put stores e under key, replacing any previous entry. It fails with
// ErrNoCache if the cache has been deleted since it was opened.
func (c *Cache) Put(ctx context.Context, key string, e *Entry) error {
	if err := c.storage.checkOpen(); err != nil {
		return err
	}

	tx, err := c.storage.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, c.name).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up cache %s: %w", c.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoCache, c.name)
	}
	if err := putEntry(ctx, tx, c.name, key, e); err != nil {
		return err
	}
	return tx.Commit()
}

// Match returns the entry stored under key, or (nil, nil) on a miss.
func (c *Cache) Match(ctx context.Context, key string) (*Entry, error) {
	if err := c.storage.checkOpen(); err != nil {
		return nil, err
	}
	row := c.storage.conn.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE cache = ? AND key = ?`,
		c.name, key)
	return scanEntry(row)
}

// Keys lists the keys stored in the cache.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if err := c.storage.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := c.storage.conn.QueryContext(ctx,
		`SELECT key FROM entries WHERE cache = ? ORDER BY key`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", c.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func putEntry(ctx context.Context, tx *sql.Tx, cache, key string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header of %s: %w", key, err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (cache, key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache, key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		cache, key, e.Status, string(header), body, storedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", key, cache, err)
	}
	return nil
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e        Entry
		header   string
		storedAt string
	)
	err := row.Scan(&e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("failed to decode cached header: %w", err)
	}
	e.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	return &e, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
