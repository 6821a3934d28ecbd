package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const cacheFileName = "cache.json"

// FileStore keeps the cache as one JSON document on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. An empty path uses DefaultPath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStore{path: path}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string { return s.path }

// DefaultPath resolves the cache file location. SPENDWATCH_CACHE_DIR wins, then the
// user cache directory, then the working directory.
func DefaultPath() string {
	if dir := os.Getenv("SPENDWATCH_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, cacheFileName)
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "spendwatch", cacheFileName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, cacheFileName)
	}
	return filepath.Join(os.TempDir(), cacheFileName)
}

// Load reads the cache. A missing file is an empty cache.
func (s *FileStore) Load(_ context.Context) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cache{Accounts: map[string]AccountSnapshot{}}, nil
		}
		return Cache{}, fmt.Errorf("%w: read %s: %v", ErrCacheIO, s.path, err)
	}
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return Cache{}, fmt.Errorf("%w: unmarshal %s: %v", ErrCacheIO, s.path, err)
	}
	if c.Accounts == nil {
		c.Accounts = map[string]AccountSnapshot{}
	}
	return c, nil
}

// Save writes the cache through a temp file and rename so readers never see a
// partial record.
func (s *FileStore) Save(_ context.Context, c Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrCacheIO, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrCacheIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrCacheIO, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp: %v", ErrCacheIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp: %v", ErrCacheIO, err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: chmod: %v", ErrCacheIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrCacheIO, err)
	}
	return nil
}
