package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses
// or queued write operations. Entries from several namespaces live in the
// same provider, separated by key prefixes, so operating on specific keys
// or prefixes is very important.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// AllKeys calls the given callback for each key with the given prefix.
	// It calls the callback in order to enable very large lists of keys to be
	// processable (provider implementation might use paging, for instance).
	AllKeys(prefix string, cb func(string))
	// All returns all cache entries that have the specific key prefix.
	// Entries are returned in key order, which for time-derived keys is
	// insertion order.
	All(prefix string) ([]CacheEntry, error)
	// Get returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(key string) ([]byte, bool, error)
	// Put stores the given bytes under the given key.
	// Storing an existing key overwrites the prior value in full.
	Put(key string, bytes []byte) error
	// PutCE stores a complete cache entry, including insertion time and
	// body size metadata.
	PutCE(CacheEntry) error
	// Purge removes the cache entry for the given key.
	Purge(key string)
	// PurgePrefix removes every entry whose key has the given prefix.
	PurgePrefix(prefix string)
	// Has checks if the specified key exists in the cache.
	Has(key string) bool
	// Size returns the sum of the body sizes of all entries with the
	// given key prefix.
	Size(prefix string) (int64, error)
}

// CacheEntry is a single stored value plus its metadata.
// BodySize is the byte length of the stored response body only, not of the
// serialized Bytes, so that namespace size reporting reflects payload bytes.
type CacheEntry struct {
	Key      string
	StoredAt time.Time
	BodySize int64
	Bytes    []byte
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		stored_at INTEGER,
		body_size INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteCache) All(prefix string) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	rows, err := s.db.Query(`SELECT
		key, stored_at, body_size, bytes
		FROM cache WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry CacheEntry
		var stored int64
		if err := rows.Scan(&entry.Key, &stored, &entry.BodySize, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.StoredAt = time.Unix(stored, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE key = ?", key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(key string, bytes []byte) error {
	return s.PutCE(CacheEntry{
		Key:      key,
		StoredAt: time.Now(),
		Bytes:    bytes,
	})
}

func (s SQLiteCache) PutCE(ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, stored_at, body_size, bytes) VALUES (?, ?, ?, ?)`,
		ce.Key, ce.StoredAt.Unix(), ce.BodySize, ce.Bytes)
	return err
}

func (s SQLiteCache) Purge(key string) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		panic(err)
	}
}

func (s SQLiteCache) PurgePrefix(prefix string) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		panic(err)
	}
}

func (s SQLiteCache) Has(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Size(prefix string) (int64, error) {
	var size int64
	err := s.db.QueryRow(
		"SELECT COALESCE(SUM(body_size), 0) FROM cache WHERE key LIKE ?",
		prefix+"%",
	).Scan(&size)
	return size, err
}

func (s SQLiteCache) AllKeys(prefix string, cb func(string)) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return
		}
		cb(key)
	}
}
