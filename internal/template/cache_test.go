package template

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIdx() *Index {
	return &Index{
		Version: "1",
		Templates: []Metadata{
			{ID: "github-push", Name: "GitHub push", Provider: "github", Event: "push", File: "github/push.jsonc"},
		},
	}
}

func TestIndexCacheRoundTrip(t *testing.T) {
	c := NewIndexCache(t.TempDir())
	at := time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Set(sampleIdx(), at))

	cached, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, at, cached.CachedAt)
	assert.Equal(t, *sampleIdx(), cached.Index)
}

func TestIndexCacheMissWhenAbsent(t *testing.T) {
	c := NewIndexCache(t.TempDir())
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestIndexCacheCorruptEntryReadsAsMiss(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), []byte("{broken"), 0o600))
	_, ok := NewIndexCache(dir).Get()
	assert.False(t, ok)
}

func TestIndexCacheSetCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "templates")
	c := NewIndexCache(dir)
	require.NoError(t, c.Set(sampleIdx(), time.Now()))
	_, ok := c.Get()
	assert.True(t, ok)
}

func TestIndexCacheClear(t *testing.T) {
	c := NewIndexCache(t.TempDir())
	require.NoError(t, c.Set(sampleIdx(), time.Now()))

	require.NoError(t, c.Clear())
	_, ok := c.Get()
	assert.False(t, ok)

	// Clearing twice is not an error.
	assert.NoError(t, c.Clear())
}
