package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is the embedded remote store. Every value lives in one row
// keyed by its full path, so a collection is the set of rows one segment
// below the collection path.
//
// The database runs in WAL mode so readers serving subscriptions never wait
// on a writer.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	subs   *subscribers
	closed bool
	mu     sync.RWMutex
}

// OpenSQLite opens (or creates) the store database at path.
//
// The caller MUST call Close() when done.
func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		conn:   conn,
		path:   path,
		logger: logger,
	}
	s.subs = newSubscribers(s.readValue, logger)

	if err := s.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		path TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close stops all subscriptions and closes the database.
// Performs a WAL checkpoint so the file is self-contained afterwards.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.subs.closeAll()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Read implements Store.Read.
func (s *SQLiteStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.readValue(ctx, p)
}

// readValue assembles the value at a clean path from its own row or from
// its descendants.
func (s *SQLiteStore) readValue(ctx context.Context, p string) (json.RawMessage, error) {
	prefix := p + "/"
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, value FROM nodes WHERE path = ? OR substr(path, 1, ?) = ? ORDER BY path`,
		p, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	defer rows.Close()

	var (
		own  json.RawMessage
		tree = map[string]any{}
		n    int
	)
	for rows.Next() {
		var rowPath, value string
		if err := rows.Scan(&rowPath, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
		if rowPath == p {
			own = json.RawMessage(value)
			continue
		}
		insertTree(tree, strings.Split(strings.TrimPrefix(rowPath, prefix), "/"), json.RawMessage(value))
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	if own != nil {
		return own, nil
	}
	if n == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p, err)
	}
	return data, nil
}

func insertTree(tree map[string]any, segs []string, value json.RawMessage) {
	for len(segs) > 1 {
		child, ok := tree[segs[0]].(map[string]any)
		if !ok {
			child = map[string]any{}
			tree[segs[0]] = child
		}
		tree, segs = child, segs[1:]
	}
	tree[segs[0]] = value
}

// Subscribe implements Store.Subscribe.
func (s *SQLiteStore) Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.subs.add(p, fn), nil
}

// Write implements Store.Write. A null value is a delete. Writing below a
// path that holds a value replaces that value, so a path never has both
// its own row and descendant rows.
func (s *SQLiteStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if len(value) == 0 || string(value) == "null" {
		return s.Delete(ctx, p)
	}
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", p)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write of %s: %w", p, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteTree(ctx, tx, p); err != nil {
		return err
	}
	if err := deleteAncestors(ctx, tx, p); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
		p, string(value), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write of %s: %w", p, err)
	}

	s.subs.notify(p)
	return nil
}

// Append implements Store.Append. Keys are UUIDv7 strings, so keys
// allocated later sort after earlier ones.
func (s *SQLiteStore) Append(ctx context.Context, path string) (string, error) {
	if _, err := CleanPath(path); err != nil {
		return "", err
	}
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	return NewKey()
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of %s: %w", p, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteTree(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", p, err)
	}

	s.subs.notify(p)
	return nil
}

func deleteTree(ctx context.Context, tx *sql.Tx, p string) error {
	prefix := p + "/"
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
		p, len(prefix), prefix); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// deleteAncestors removes the rows stored at any proper prefix of p.
func deleteAncestors(ctx context.Context, tx *sql.Tx, p string) error {
	for i := strings.LastIndex(p, "/"); i > 0; i = strings.LastIndex(p[:i], "/") {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, p[:i]); err != nil {
			return fmt.Errorf("failed to replace %s: %w", p[:i], err)
		}
	}
	return nil
}

// Count returns the number of stored values at or below path.
func (s *SQLiteStore) Count(ctx context.Context, path string) (int, error) {
	p, err := CleanPath(path)
	if err != nil {
		return 0, err
	}
	prefix := p + "/"
	var count int
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
		p, len(prefix), prefix).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", p, err)
	}
	return count, nil
}

// NewKey returns a fresh time-ordered key.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to allocate key: %w", err)
	}
	return id.String(), nil
}
