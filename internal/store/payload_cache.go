package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/lox/soilclimate/internal/metrics"
)

// PayloadCache is a cache.Store backed by the cache_entries table. Payloads
// are gzip-compressed and verified against their SHA-256 on read.
type PayloadCache struct {
	s *Store
}

func (s *Store) PayloadCache() *PayloadCache {
	return &PayloadCache{s: s}
}

func (c *PayloadCache) Load(key string) ([]byte, bool) {
	payload, err := c.load(key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		c.s.logger.Warn("cache entry unusable, ignoring", "key", key, "error", err)
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return payload, true
}

func (c *PayloadCache) load(key string) ([]byte, error) {
	var compressed []byte
	var hash string
	err := c.s.db.QueryRow(`SELECT payload_compressed, payload_hash FROM cache_entries WHERE cache_key = ?`, key).
		Scan(&compressed, &hash)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if hashPayload(payload) != hash {
		return nil, fmt.Errorf("payload hash mismatch")
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return payload, nil
}

// Store saves payload under key. A readable entry is never replaced; an
// unreadable one is.
func (c *PayloadCache) Store(key string, payload []byte) error {
	if _, err := c.load(key); err == nil {
		return nil
	}
	return c.put(key, payload)
}

// Replace overwrites key regardless of what is stored.
func (c *PayloadCache) Replace(key string, payload []byte) error {
	return c.put(key, payload)
}

func (c *PayloadCache) put(key string, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	_, err := c.s.db.Exec(`
		INSERT OR REPLACE INTO cache_entries (cache_key, stored_at, payload_compressed, payload_hash, payload_size)
		VALUES (?, ?, ?, ?, ?)
	`, key, c.s.clock.Now().UTC(), buf.Bytes(), hashPayload(payload), len(payload))
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}

	c.s.logger.Debug("cached payload", "key", key,
		"size", humanize.Bytes(uint64(len(payload))),
		"compressed", humanize.Bytes(uint64(buf.Len())),
	)
	return nil
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// CacheStats summarises cache_entries for the status command.
type CacheStats struct {
	Entries         int
	RawBytes        int64
	CompressedBytes int64
}

func (s *Store) GetCacheStats() (CacheStats, error) {
	var st CacheStats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(payload_size), 0), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM cache_entries
	`).Scan(&st.Entries, &st.RawBytes, &st.CompressedBytes)
	return st, err
}
