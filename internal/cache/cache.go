// Package cache stores per-file analysis results on disk so unchanged files
// are not analyzed again.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/model"
)

// Current schema version - increment when the payload format changes.
const schemaVersion uint16 = 1

// Key identifies one cached result.
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// KeyFor derives the cache key of a file from everything its result depends
// on: language, the options that change measurement, path and content.
func KeyFor(language, options, path string, content []byte) Key {
	h := sha256.New()
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], schemaVersion)
	h.Write(v[:])
	for _, s := range []string{language, options, path} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write(content)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

type payload struct {
	Schema uint16
	Result model.FileResult
}

// Cache is a directory of msgpack-encoded results. A nil *Cache is a valid,
// always-missing cache. It is safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open returns a cache rooted at dir, creating it if needed.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) pathFor(key Key) string {
	s := key.String()
	return filepath.Join(c.dir, "results", s[:2], s+".mp")
}

// Put writes r under key, replacing the file atomically.
func (c *Cache) Put(key Key, r *model.FileResult) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(&payload{Schema: schemaVersion, Result: *r}); err != nil {
		return fmt.Errorf("encoding %s: %w", r.Path, err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads the result stored under key. A missing entry or one written
// with another schema version is a miss, not an error.
func (c *Cache) Get(key Key) (*model.FileResult, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	var p payload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	if p.Schema != schemaVersion {
		log.Debug(log.CatCache, "stale schema", "key", key.String(), "schema", p.Schema)
		return nil, false, nil
	}
	p.Result.Cached = true
	return &p.Result, true, nil
}

// DropAll removes every cached entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	results := filepath.Join(c.dir, "results")
	old := results + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(results, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(old)
}
