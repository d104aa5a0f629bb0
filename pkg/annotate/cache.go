package annotate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/chazu/carcinize/pkg/mir"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const cacheSchema = `CREATE TABLE IF NOT EXISTS annotations (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	answer     TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Cache is a Service that remembers the answers of another Service in a
// SQLite database. Failed answers are never stored.
type Cache struct {
	db     *sql.DB
	dbPath string
	inner  Service
	runID  string
	hits   int64
	misses int64
}

// CacheStats counts lookups since the cache was opened.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// OpenCache opens (creating if needed) the cache database at path.
// CARCINIZE_CACHE_DB overrides an empty path.
func OpenCache(path string, inner Service) (*Cache, error) {
	if path == "" {
		path = os.Getenv("CARCINIZE_CACHE_DB")
	}
	if path == "" {
		return nil, errors.New("no cache database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db, dbPath: path, inner: inner, runID: uuid.NewString()}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Path returns the database file.
func (c *Cache) Path() string {
	return c.dbPath
}

// RunID identifies the answers stored by this cache instance.
func (c *Cache) RunID() string {
	return c.runID
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: atomic.LoadInt64(&c.hits), Misses: atomic.LoadInt64(&c.misses)}
}

func cacheKey(kind string, q interface{}) (string, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(kind+"\x00"), payload...))
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	var answer string
	err := c.db.QueryRowContext(ctx, "SELECT answer FROM annotations WHERE key = ?", key).Scan(&answer)
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}
	atomic.AddInt64(&c.hits, 1)
	return answer, true
}

func (c *Cache) store(ctx context.Context, key, kind, answer string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO annotations (key, kind, answer, run_id, created_at) VALUES (?, ?, ?, ?, ?)",
		key, kind, answer, c.runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing annotation: %w", err)
	}
	return nil
}

// InferCallSemantics answers from the cache, consulting the inner service on a miss.
func (c *Cache) InferCallSemantics(ctx context.Context, q CallQuery) ([]mir.Tag, error) {
	key, err := cacheKey("call", q)
	if err != nil {
		return nil, err
	}
	if answer, ok := c.lookup(ctx, key); ok {
		var raw []string
		if err := json.Unmarshal([]byte(answer), &raw); err == nil {
			return ParseTags(raw), nil
		}
	}
	tags, err := c.inner.InferCallSemantics(ctx, q)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(TagStrings(tags))
	if err != nil {
		return nil, err
	}
	_ = c.store(ctx, key, "call", string(encoded))
	return tags, nil
}

// ModuleNarrative answers from the cache, consulting the inner service on a miss.
func (c *Cache) ModuleNarrative(ctx context.Context, q ModuleQuery) (string, error) {
	return c.text(ctx, "module", q, func() (string, error) {
		return c.inner.ModuleNarrative(ctx, q)
	})
}

// UnsafeJustification answers from the cache, consulting the inner service on a miss.
func (c *Cache) UnsafeJustification(ctx context.Context, q UnsafeQuery) (string, error) {
	return c.text(ctx, "unsafe", q, func() (string, error) {
		return c.inner.UnsafeJustification(ctx, q)
	})
}

func (c *Cache) text(ctx context.Context, kind string, q interface{}, miss func() (string, error)) (string, error) {
	key, err := cacheKey(kind, q)
	if err != nil {
		return "", err
	}
	if answer, ok := c.lookup(ctx, key); ok {
		return answer, nil
	}
	answer, err := miss()
	if err != nil {
		return "", err
	}
	_ = c.store(ctx, key, kind, answer)
	return answer, nil
}
