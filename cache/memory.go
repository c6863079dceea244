package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type memCacheEntry struct {
	storedAt time.Time
	bodySize int64
	bytes    []byte
}

// MemCache is an in-memory cache provider, mainly useful for testing.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]memCacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]memCacheEntry),
	}
}

func (m MemCache) All(prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]CacheEntry, 0)
	for key, val := range m.db {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, CacheEntry{
				Key:      key,
				StoredAt: val.storedAt,
				BodySize: val.bodySize,
				Bytes:    val.bytes,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (m MemCache) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) Put(key string, bytes []byte) error {
	return m.PutCE(CacheEntry{
		Key:      key,
		StoredAt: time.Now(),
		Bytes:    bytes,
	})
}

func (m MemCache) PutCE(ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[ce.Key] = memCacheEntry{
		storedAt: ce.StoredAt,
		bodySize: ce.BodySize,
		bytes:    ce.Bytes,
	}
	return nil
}

func (m MemCache) Purge(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
}

func (m MemCache) PurgePrefix(prefix string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			delete(m.db, key)
		}
	}
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) Size(prefix string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var size int64
	for key, entry := range m.db {
		if strings.HasPrefix(key, prefix) {
			size += entry.bodySize
		}
	}
	return size, nil
}

func (m MemCache) AllKeys(prefix string, cb func(string)) {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
}
