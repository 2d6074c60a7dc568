package albumart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrKeyRequired = errors.New("albumart: cache key required")

// Cache is a flat directory of processed images named <key><ext>. Nothing is
// ever evicted.
type Cache struct {
	dir string
	ext string
}

func NewCache(dir, ext string) *Cache {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Cache{dir: dir, ext: ext}
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key+c.ext)
}

// Lookup reports whether key is cached and, if so, its path and size.
func (c *Cache) Lookup(key string) (string, int64, bool) {
	if key == "" {
		return "", 0, false
	}
	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return path, 0, false
	}
	return path, info.Size(), true
}

// Write stores data under key via a temp file and rename, so readers never
// see a partial image.
func (c *Cache) Write(key string, data []byte) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("albumart: create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("albumart: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("albumart: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("albumart: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, fs.FileMode(0o644)); err != nil {
		cleanup()
		return "", fmt.Errorf("albumart: chmod temp file: %w", err)
	}
	path := c.Path(key)
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("albumart: commit cache file: %w", err)
	}
	return path, nil
}
