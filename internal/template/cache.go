package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const cacheFileName = ".index-cache.json"

// CachedIndex is the on-disk cache entry for the remote index.
type CachedIndex struct {
	Index    Index     `json:"index"`
	CachedAt time.Time `json:"cachedAt"`
}

// IndexCache stores one cached copy of the remote index inside the templates
// directory. Absence and parse failures both read as a miss; a lost update
// across processes merely causes the next call to re-fetch.
type IndexCache struct {
	dir string
}

func NewIndexCache(dir string) *IndexCache {
	return &IndexCache{dir: dir}
}

func (c *IndexCache) path() string {
	return filepath.Join(c.dir, cacheFileName)
}

// Get returns the cached entry and whether one was usable.
func (c *IndexCache) Get() (*CachedIndex, bool) {
	data, err := os.ReadFile(c.path())
	if err != nil {
		return nil, false
	}
	var cached CachedIndex
	if err := json.Unmarshal(data, &cached); err != nil {
		logrus.Debugf("Ignoring unreadable index cache: %v", err)
		return nil, false
	}
	return &cached, true
}

// Set overwrites the cache entry atomically.
func (c *IndexCache) Set(idx *Index, now time.Time) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create templates directory: %w", err)
	}
	data, err := json.MarshalIndent(CachedIndex{Index: *idx, CachedAt: now.UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index cache: %w", err)
	}
	path := c.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp index cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist index cache: %w", err)
	}
	return nil
}

// Clear removes the cache entry; clearing an absent cache is fine.
func (c *IndexCache) Clear() error {
	if err := os.Remove(c.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear index cache: %w", err)
	}
	return nil
}
