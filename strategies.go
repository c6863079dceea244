package offlinecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offline-cache/offline-cache/cache"
	serializer "github.com/offline-cache/offline-cache/pkg/response-serializer"
	"github.com/offline-cache/offline-cache/pkg/strategy"
)

// ErrorNetworkUnavailable means the network fetch failed and no cached
// fallback exists.
var ErrorNetworkUnavailable = fmt.Errorf("Network unavailable")

// ErrorNotFound means a cache-only lookup missed.
var ErrorNotFound = fmt.Errorf("Not found in cache")

// execute runs the request through the given strategy.
func (a *OfflineCache) execute(strat strategy.Strategy, r *http.Request, cs *CacheStatus) (*http.Response, error) {
	cs.Strategy(strat)
	switch strat {
	case strategy.CacheFirst:
		return a.cacheFirst(r, cs)
	case strategy.StaleWhileRevalidate:
		return a.staleWhileRevalidate(r, cs)
	case strategy.NetworkOnly:
		return a.networkOnly(r, cs)
	case strategy.CacheOnly:
		return a.cacheOnly(r, cs)
	}
	return a.networkFirst(r, cs)
}

// cacheFirst serves from the cache and never touches the network on a hit.
// On a miss the fetched response is stored whatever its status, so error
// responses get pinned until the next version cleanup.
func (a *OfflineCache) cacheFirst(r *http.Request, cs *CacheStatus) (*http.Response, error) {
	key := a.assetKeyer.GetKey(r)
	if res, ok := a.lookup(key); ok {
		cs.Hit()
		return res, nil
	}
	cs.Forward(CacheStatusFwdUriMiss)
	res, err := a.fetcher.Fetch(r)
	if err != nil {
		a.log.Debug().Err(err).Str("key", key).Msg("Origin unreachable")
		cs.Detail("network-unavailable")
		return nil, ErrorNetworkUnavailable
	}
	if err := a.store(key, res); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
	} else {
		cs.Stored()
	}
	return res, nil
}

// networkFirst serves from the network, storing successful responses, and
// falls back to the cache when the origin is unreachable. Navigations with
// nothing cached fall back to the offline shell.
func (a *OfflineCache) networkFirst(r *http.Request, cs *CacheStatus) (*http.Response, error) {
	key := a.assetKeyer.GetKey(r)
	res, err := a.fetcher.Fetch(r)
	if err == nil {
		cs.Forward(CacheStatusFwdBypass)
		if isSuccess(res.StatusCode) {
			if err := a.store(key, res); err != nil {
				a.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
			} else {
				cs.Stored()
			}
		}
		return res, nil
	}
	a.log.Debug().Err(err).Str("key", key).Msg("Origin unreachable, trying cache")
	if res, ok := a.lookup(key); ok {
		cs.Hit()
		cs.Detail("offline")
		return res, nil
	}
	if strategy.IsNavigation(r) {
		if res, ok := a.lookup(a.shellKey); ok {
			cs.Hit()
			cs.Detail("offline-shell")
			return res, nil
		}
	}
	cs.Forward(CacheStatusFwdMiss)
	cs.Detail("network-unavailable")
	return nil, ErrorNetworkUnavailable
}

// staleWhileRevalidate returns the cached response right away when present
// and refreshes the stored entry from the network in the background.
// The refreshed response is only observable on the next request.
func (a *OfflineCache) staleWhileRevalidate(r *http.Request, cs *CacheStatus) (*http.Response, error) {
	key := a.assetKeyer.GetKey(r)
	if res, ok := a.lookup(key); ok {
		cs.Hit()
		// the client request context is canceled once the response is
		// sent, so the detached refresh needs its own request
		refreshReq := r.Clone(context.Background())
		refreshReq.Body = nil
		go a.revalidate(key, refreshReq)
		return res, nil
	}
	cs.Forward(CacheStatusFwdUriMiss)
	res, err := a.fetcher.Fetch(r)
	if err != nil {
		a.log.Debug().Err(err).Str("key", key).Msg("Origin unreachable")
		cs.Detail("network-unavailable")
		return nil, ErrorNetworkUnavailable
	}
	if err := a.store(key, res); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
	} else {
		cs.Stored()
	}
	return res, nil
}

// networkOnly always fetches from the network and never touches the cache.
func (a *OfflineCache) networkOnly(r *http.Request, cs *CacheStatus) (*http.Response, error) {
	cs.Forward(CacheStatusFwdBypass)
	res, err := a.fetcher.Fetch(r)
	if err != nil {
		cs.Detail("network-unavailable")
		return nil, ErrorNetworkUnavailable
	}
	return res, nil
}

// cacheOnly serves from the cache and never attempts the network.
func (a *OfflineCache) cacheOnly(r *http.Request, cs *CacheStatus) (*http.Response, error) {
	if res, ok := a.lookup(a.assetKeyer.GetKey(r)); ok {
		cs.Hit()
		return res, nil
	}
	cs.Forward(CacheStatusFwdUriMiss)
	cs.Detail("not-found")
	return nil, ErrorNotFound
}

// revalidate fetches the resource and updates the stored entry for future
// requests. A failure only means the stored response stays as is.
func (a *OfflineCache) revalidate(key string, r *http.Request) {
	res, err := a.fetcher.Fetch(r)
	if err != nil {
		a.log.Debug().Err(err).Str("key", key).Msg("Could not revalidate entry")
		return
	}
	if err := a.store(key, res); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not write revalidated entry")
		return
	}
	a.log.Trace().Str("key", key).Msg("Revalidated entry")
}

// lookup returns the stored response for the given key, if any.
func (a *OfflineCache) lookup(key string) (*http.Response, bool) {
	bts, ok, err := a.cache.Get(key)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := serializer.BytesToResponse(bts)
	if err != nil {
		// an unreadable entry can never be served, purge it so the next
		// request takes the network path
		a.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		a.cache.Purge(key)
		return nil, false
	}
	a.eviction.OnGet(key)
	return res, true
}

// store writes the response to the cache under the given key and runs the
// eviction policy. The response body is set back so it can still be sent.
func (a *OfflineCache) store(key string, res *http.Response) error {
	entry, err := entryForResponse(key, res)
	if err != nil {
		return err
	}
	if err := a.cache.PutCE(entry); err != nil {
		return err
	}
	a.eviction.OnPut(key)
	for {
		victim, ok := a.eviction.Evict()
		if !ok {
			break
		}
		a.log.Trace().Str("key", victim).Msg("Evicting entry")
		a.cache.Purge(victim)
	}
	return nil
}

// entryForResponse converts a response to a cache entry under the given key.
// The response body is read in full and set back afterwards.
func entryForResponse(key string, res *http.Response) (cache.CacheEntry, error) {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	res.Body.Close()
	res.Body = io.NopCloser(bytes.NewReader(body))
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	return cache.CacheEntry{
		Key:      key,
		StoredAt: time.Now(),
		BodySize: int64(len(body)),
		Bytes:    bts,
	}, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
