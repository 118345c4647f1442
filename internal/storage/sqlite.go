package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultCacheSize = 1024

// Store is a path-keyed JSON document store backed by SQLite. Documents are
// replaced whole on write; lists are built by pushing children under a
// parent path.
type Store struct {
	db     *sql.DB
	cache  *lru.Cache[string, []byte]
	hub    *hub
	logger *slog.Logger

	// writeMu orders writes with their subscriber notifications.
	writeMu sync.Mutex
	closed  bool
	// writes counts committed writes; a read fills the cache only if no
	// write landed while it was querying. Guarded by writeMu.
	writes uint64

	afterRead func(path string) // test hook
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "margin.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	cache, err := lru.New[string, []byte](defaultCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating read cache: %w", err)
	}

	s := &Store{db: db, cache: cache, hub: newHub(), logger: slog.Default()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close stops subscription delivery and closes the database.
func (s *Store) Close() error {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()

	s.hub.close()
	return s.db.Close()
}

// migrate applies embedded SQL migrations that have not been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Get returns the document stored at path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := validatePath(path); err != nil {
		return nil, &PersistenceError{Op: "get", Path: path, Err: err}
	}
	if v, ok := s.cache.Get(path); ok {
		return cloneRaw(v), nil
	}

	s.writeMu.Lock()
	seen := s.writes
	s.writeMu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM documents WHERE path = ?", path).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Path: path, Err: err}
	}
	if s.afterRead != nil {
		s.afterRead(path)
	}

	s.writeMu.Lock()
	if s.writes == seen {
		s.cache.Add(path, []byte(value))
	}
	s.writeMu.Unlock()
	return json.RawMessage(value), nil
}

// Set replaces the document at path with the JSON encoding of v.
func (s *Store) Set(ctx context.Context, path string, v any) error {
	if err := validatePath(path); err != nil {
		return &PersistenceError{Op: "set", Path: path, Err: err}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "set", Path: path, Err: fmt.Errorf("encoding value: %w", err)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return &PersistenceError{Op: "set", Path: path, Err: ErrClosed}
	}

	if err := s.upsert(ctx, path, data); err != nil {
		return &PersistenceError{Op: "set", Path: path, Err: err}
	}
	s.hub.publish(Snapshot{Path: path, Value: cloneRaw(data), Exists: true})
	return nil
}

// Push stores v as a new child of path under a generated, time-ordered key
// and returns the key.
func (s *Store) Push(ctx context.Context, path string, v any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", &PersistenceError{Op: "push", Path: path, Err: err}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", &PersistenceError{Op: "push", Path: path, Err: fmt.Errorf("encoding value: %w", err)}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	key := id.String()
	child := path + "/" + key

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return "", &PersistenceError{Op: "push", Path: path, Err: ErrClosed}
	}

	if err := s.upsert(ctx, child, data); err != nil {
		return "", &PersistenceError{Op: "push", Path: path, Err: err}
	}
	s.hub.publish(Snapshot{Path: child, Value: cloneRaw(data), Exists: true})
	return key, nil
}

func (s *Store) upsert(ctx context.Context, path string, data []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, parent, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		path, parentOf(path), string(data), now, now,
	)
	if err != nil {
		return err
	}
	s.writes++
	s.cache.Add(path, data)
	return nil
}

// List returns the direct children of path in key order. The order carries
// no timestamp guarantee; callers that need chronology sort by content.
func (s *Store) List(ctx context.Context, path string) ([]Child, error) {
	if err := validatePath(path); err != nil {
		return nil, &PersistenceError{Op: "list", Path: path, Err: err}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT path, value FROM documents WHERE parent = ? ORDER BY path", path)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Path: path, Err: err}
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var childPath, value string
		if err := rows.Scan(&childPath, &value); err != nil {
			return nil, &PersistenceError{Op: "list", Path: path, Err: err}
		}
		children = append(children, Child{
			Key:   childPath[len(path)+1:],
			Value: json.RawMessage(value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Path: path, Err: err}
	}
	return children, nil
}

// Delete removes the document at path and everything beneath it.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return &PersistenceError{Op: "delete", Path: path, Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return &PersistenceError{Op: "delete", Path: path, Err: ErrClosed}
	}

	prefix := path + "/"
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE path = ? OR substr(path, 1, ?) = ?",
		path, len(prefix), prefix,
	); err != nil {
		return &PersistenceError{Op: "delete", Path: path, Err: err}
	}
	s.writes++

	for _, k := range s.cache.Keys() {
		if k == path || strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	s.hub.publish(Snapshot{Path: path})
	return nil
}

// Subscribe delivers the current snapshot of path to fn and then every later
// change. Deliveries for one subscriber are sequential; if several changes
// land while fn is busy, only the latest is delivered. The returned function
// stops delivery.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := validatePath(path); err != nil {
		return nil, &PersistenceError{Op: "subscribe", Path: path, Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil, &PersistenceError{Op: "subscribe", Path: path, Err: ErrClosed}
	}

	initial := Snapshot{Path: path}
	value, err := s.Get(ctx, path)
	switch {
	case err == nil:
		initial.Value = value
		initial.Exists = true
	case err != ErrNotFound:
		return nil, err
	}

	sub := s.hub.add(path, fn)
	sub.offer(initial)
	return func() { s.hub.remove(sub) }, nil
}

func cloneRaw(b []byte) json.RawMessage {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
