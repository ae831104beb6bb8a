// Package cache persists raw API payloads so repeated runs never refetch
// data that has already been downloaded.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/lox/soilclimate/internal/metrics"
)

// Store is a key/value store for JSON payloads. A hit is ground truth for
// the run and is never revalidated against the remote source.
type Store interface {
	// Load returns the payload for key. Missing, unreadable or corrupt
	// entries are a miss.
	Load(key string) ([]byte, bool)
	// Store saves payload under key unless an entry already exists.
	Store(key string, payload []byte) error
	// Replace overwrites key. Callers use it for entries that loaded as
	// valid JSON but that they could not use.
	Replace(key string, payload []byte) error
}

// InventoryKey identifies the station inventory snapshot.
func InventoryKey() string {
	return "stations"
}

// StationYearKey identifies one station's raw daily records for a year.
func StationYearKey(stationID string, year int) string {
	return "climate_" + stationID + "_" + strconv.Itoa(year)
}

// FileCache stores one JSON file per key in a directory.
type FileCache struct {
	dir    string
	logger *slog.Logger
}

func NewFileCache(dir string, logger *slog.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir, logger: logger}, nil
}

// Path returns the file backing key.
func (c *FileCache) Path(key string) string {
	return filepath.Join(c.dir, filepath.Base(key)+".json")
}

func (c *FileCache) Load(key string) ([]byte, bool) {
	path := c.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("cache file unreadable", "path", path, "error", err)
			metrics.CacheLookups.WithLabelValues("corrupt").Inc()
			return nil, false
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if !gjson.ValidBytes(data) {
		c.logger.Warn("cache file is not valid JSON, ignoring", "path", path, "size", humanize.Bytes(uint64(len(data))))
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return data, true
}

// Store writes payload atomically. A valid existing entry is left untouched;
// a corrupt one is replaced.
func (c *FileCache) Store(key string, payload []byte) error {
	if existing, err := os.ReadFile(c.Path(key)); err == nil && gjson.ValidBytes(existing) {
		return nil
	}
	return c.write(key, payload)
}

// Replace writes payload atomically over any existing entry.
func (c *FileCache) Replace(key string, payload []byte) error {
	return c.write(key, payload)
}

func (c *FileCache) write(key string, payload []byte) error {
	path := c.Path(key)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into cache: %w", err)
	}

	c.logger.Debug("cached payload", "key", key, "size", humanize.Bytes(uint64(len(payload))))
	return nil
}
