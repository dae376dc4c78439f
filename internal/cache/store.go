// Package cache is a categorized, versioned cache over durable key-value
// storage. Entries carry their write time and schema version; freshness is
// decided at read time against a caller-supplied TTL and version.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leonardcser/api-relay/internal/kv"
	"github.com/leonardcser/api-relay/internal/logger"
)

const DefaultPrefix = "@relay_cache:"

var ErrNotFound = errors.New("cache: not found")

// Entry is a decoded cache record.
type Entry struct {
	Key           string
	Category      Category
	Payload       json.RawMessage
	StoredAt      time.Time
	SchemaVersion string
}

// Fresh reports whether the entry may be served for a strict read.
func (e *Entry) Fresh(now time.Time, ttl time.Duration, version string) bool {
	return e.SchemaVersion == version && now.Sub(e.StoredAt) <= ttl
}

// record is the persisted layout.
type record struct {
	Payload       json.RawMessage `json:"payload"`
	StoredAt      int64           `json:"storedAt"`
	SchemaVersion string          `json:"schemaVersion"`
}

type Options struct {
	// Prefix namespaces every physical key. Defaults to DefaultPrefix.
	Prefix string
	// Now overrides the clock.
	Now func() time.Time
}

// Store is the sole reader and writer of its prefix in the underlying KV.
type Store struct {
	kv     kv.KV
	prefix string
	now    func() time.Time
}

func NewStore(backing kv.KV, opts Options) *Store {
	s := &Store{kv: backing, prefix: opts.Prefix, now: opts.Now}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) physicalKey(key string, category Category) string {
	return s.prefix + string(category) + ":" + key
}

func (s *Store) categoryPrefix(category Category) string {
	return s.prefix + string(category) + ":"
}

// Get returns the payload only if the entry exists, carries
// expectedVersion, and is no older than ttl.
func (s *Store) Get(key string, category Category, expectedVersion string, ttl time.Duration) (json.RawMessage, error) {
	e, err := s.Lookup(key, category)
	if err != nil {
		return nil, err
	}
	if !e.Fresh(s.now(), ttl, expectedVersion) {
		return nil, ErrNotFound
	}
	return e.Payload, nil
}

// GetIgnoringExpiry returns the payload regardless of age or version. It
// is meant for last-resort fallbacks after the network has failed.
func (s *Store) GetIgnoringExpiry(key string, category Category) (json.RawMessage, error) {
	e, err := s.Lookup(key, category)
	if err != nil {
		return nil, err
	}
	return e.Payload, nil
}

// Lookup returns the full entry without judging freshness.
func (s *Store) Lookup(key string, category Category) (*Entry, error) {
	raw, err := s.kv.Get(s.physicalKey(key, category))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.Warnf("cache: dropping undecodable entry %s/%s: %v", category, key, err)
		_ = s.kv.Delete(s.physicalKey(key, category))
		return nil, ErrNotFound
	}
	return &Entry{
		Key:           key,
		Category:      category,
		Payload:       rec.Payload,
		StoredAt:      time.UnixMilli(rec.StoredAt),
		SchemaVersion: rec.SchemaVersion,
	}, nil
}

// Set overwrites the entry for key. The ttl is not persisted: expiry is
// judged on read from the stored write time.
func (s *Store) Set(key string, category Category, payload json.RawMessage, ttl time.Duration, version string) error {
	if !json.Valid(payload) {
		return fmt.Errorf("cache: payload for %s is not valid JSON", key)
	}
	raw, err := json.Marshal(record{
		Payload:       payload,
		StoredAt:      s.now().UnixMilli(),
		SchemaVersion: version,
	})
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.kv.Put(s.physicalKey(key, category), raw); err != nil {
		return fmt.Errorf("cache: write %s: %w", key, err)
	}
	logger.Debugf("cache: stored %s/%s (ttl %s)", category, key, ttl)
	return nil
}

// Remove deletes key from every category.
func (s *Store) Remove(key string) error {
	for _, c := range Categories {
		if err := s.kv.Delete(s.physicalKey(key, c)); err != nil {
			return fmt.Errorf("cache: remove %s: %w", key, err)
		}
	}
	return nil
}

// ClearCategory deletes every entry in category.
func (s *Store) ClearCategory(category Category) error {
	return s.deletePrefix(s.categoryPrefix(category))
}

// ClearAll deletes every entry under the store prefix.
func (s *Store) ClearAll() error {
	return s.deletePrefix(s.prefix)
}

// Count returns the number of entries per category.
func (s *Store) Count() (map[Category]int, error) {
	keys, err := s.kv.Keys(s.prefix)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	out := make(map[Category]int)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, s.prefix)
		if i := strings.IndexByte(rest, ':'); i > 0 {
			out[Category(rest[:i])]++
		}
	}
	return out, nil
}

func (s *Store) deletePrefix(prefix string) error {
	keys, err := s.kv.Keys(prefix)
	if err != nil {
		return fmt.Errorf("cache: list %s: %w", prefix, err)
	}
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			return fmt.Errorf("cache: delete %s: %w", k, err)
		}
	}
	return nil
}
