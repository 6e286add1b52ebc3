package filecache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReReadsOnlyWhenModTimeChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	parses := 0
	c := New(func(data []byte) (string, error) {
		parses++
		return string(data), nil
	})

	got, err := c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	got, err = c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
	assert.Equal(t, 1, parses)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	got, err = c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Equal(t, 2, parses)
}

func TestCacheInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	parses := 0
	c := New(func(data []byte) (string, error) {
		parses++
		return string(data), nil
	})

	_, err := c.Get(path)
	require.NoError(t, err)
	c.Invalidate(path)
	_, err = c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, 2, parses)
}

func TestCacheMissingFile(t *testing.T) {
	c := New(Text)
	_, err := c.Get(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestCacheParseErrorIsNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fail := true
	c := New(func(data []byte) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return string(data), nil
	})

	_, err := c.Get(path)
	require.Error(t, err)

	fail = false
	got, err := c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}
