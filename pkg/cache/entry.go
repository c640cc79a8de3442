package cache

import (
	"encoding/json"
	"time"

	"github.com/voxbiblia/ark/pkg/content"
)

// Key/value namespace. Payload and metadata are stored under separate
// prefixes so the index can be rebuilt without touching payload bytes.
const (
	payloadPrefix = "c:"
	metaPrefix    = "m:"
)

func payloadKey(key string) string { return payloadPrefix + key }
func metaKey(key string) string    { return metaPrefix + key }

// PutOptions controls how a payload is stored.
type PutOptions struct {
	// TTL bounds the entry's lifetime. Zero uses the cache default;
	// negative stores the entry without expiry regardless of the default.
	TTL time.Duration

	// Pinned exempts the entry from LRU eviction until unpinned.
	Pinned bool
}

// Entry is a read-only snapshot of a cached entry's metadata.
type Entry struct {
	Key            content.Key
	SizeBytes      int64
	StoredAt       time.Time
	LastAccessedAt time.Time

	// ExpiresAt is zero for entries without expiry.
	ExpiresAt time.Time

	Pinned bool
}

// entry is the mutable in-memory index record. Guarded by Cache.mu.
type entry struct {
	key            content.Key
	sizeBytes      int64
	storedAt       time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time
	pinned         bool
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:            e.key,
		SizeBytes:      e.sizeBytes,
		StoredAt:       e.storedAt,
		LastAccessedAt: e.lastAccessedAt,
		ExpiresAt:      e.expiresAt,
		Pinned:         e.pinned,
	}
}

// entryRecord is the durable JSON form of an index entry.
type entryRecord struct {
	Key            string    `json:"key"`
	SizeBytes      int64     `json:"sizeBytes"`
	StoredAt       time.Time `json:"storedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Pinned         bool      `json:"pinned"`
}

func encodeEntry(e *entry) ([]byte, error) {
	return json.Marshal(entryRecord{
		Key:            e.key.String(),
		SizeBytes:      e.sizeBytes,
		StoredAt:       e.storedAt,
		LastAccessedAt: e.lastAccessedAt,
		ExpiresAt:      e.expiresAt,
		Pinned:         e.pinned,
	})
}

func decodeEntry(data []byte) (*entry, error) {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	key, err := content.ParseKey(rec.Key)
	if err != nil {
		return nil, err
	}

	return &entry{
		key:            key,
		sizeBytes:      rec.SizeBytes,
		storedAt:       rec.StoredAt,
		lastAccessedAt: rec.LastAccessedAt,
		expiresAt:      rec.ExpiresAt,
		pinned:         rec.Pinned,
	}, nil
}
