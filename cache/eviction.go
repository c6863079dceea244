package cache

import "sync"

// EvictionPolicy decides which stored entries should be dropped as new ones
// are added. The policy only does bookkeeping; the caller is responsible for
// actually purging the returned keys from the provider.
type EvictionPolicy interface {
	// OnGet is called whenever a key is read.
	// Insertion-order policies ignore this.
	OnGet(key string)
	// OnPut is called whenever a key is stored.
	OnPut(key string)
	// Evict returns the next key that should be removed, if any.
	// The key is dropped from the policy's own bookkeeping.
	Evict() (string, bool)
}

// NoEviction keeps everything. Namespace-wide cleanup at version transitions
// is then the only thing bounding storage.
type NoEviction struct{}

func (NoEviction) OnGet(string)          {}
func (NoEviction) OnPut(string)          {}
func (NoEviction) Evict() (string, bool) { return "", false }

// FIFOEviction drops the oldest inserted entries once more than maxEntries
// keys are tracked. Overwriting an existing key does not change its place in
// the insertion order.
type FIFOEviction struct {
	mutex      sync.Mutex
	maxEntries int
	order      []string
	known      map[string]struct{}
}

func NewFIFOEviction(maxEntries int) *FIFOEviction {
	return &FIFOEviction{
		maxEntries: maxEntries,
		known:      make(map[string]struct{}),
	}
}

func (f *FIFOEviction) OnGet(string) {}

func (f *FIFOEviction) OnPut(key string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.known[key]; ok {
		return
	}
	f.known[key] = struct{}{}
	f.order = append(f.order, key)
}

func (f *FIFOEviction) Evict() (string, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.maxEntries <= 0 || len(f.order) <= f.maxEntries {
		return "", false
	}
	key := f.order[0]
	f.order = f.order[1:]
	delete(f.known, key)
	return key, true
}
