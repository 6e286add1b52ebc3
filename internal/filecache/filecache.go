// Package filecache caches parsed file contents keyed by path, re-reading a file
// only when its modification time changes.
//
// A Cache is process-wide state: it starts empty, never evicts and is never torn
// down. Reads are read-your-writes only within one process; another process
// writing the same file is observed once its mtime changes.
package filecache

import (
	"os"
	"sync"
	"time"
)

// ParseFunc turns raw file bytes into the cached value.
type ParseFunc[T any] func(data []byte) (T, error)

type entry[T any] struct {
	modTime time.Time
	value   T
}

// Cache holds one parsed value per path.
type Cache[T any] struct {
	parse ParseFunc[T]

	mu      sync.RWMutex
	entries map[string]entry[T]
}

// New creates an empty cache using parse to decode file contents.
func New[T any](parse ParseFunc[T]) *Cache[T] {
	return &Cache[T]{
		parse:   parse,
		entries: make(map[string]entry[T]),
	}
}

// Get returns the parsed contents of path, reading the file only if it changed
// since the last read. Stat and read errors are returned unwrapped so callers
// can test them with os.IsNotExist / errors.Is(err, fs.ErrNotExist).
func (c *Cache[T]) Get(path string) (T, error) {
	var zero T

	info, err := os.Stat(path)
	if err != nil {
		return zero, err
	}
	modTime := info.ModTime()

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.modTime.Equal(modTime) {
		return e.value, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}
	value, err := c.parse(data)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.entries[path] = entry[T]{modTime: modTime, value: value}
	c.mu.Unlock()

	return value, nil
}

// Invalidate drops the cached entry for path.
func (c *Cache[T]) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Text is a ParseFunc for plain UTF-8 text files.
func Text(data []byte) (string, error) {
	return string(data), nil
}
