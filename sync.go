package offlinecache

import (
	"net/http"
	"time"
)

// SyncTag is the only sync tag that triggers queue replay.
// Signals with any other tag are ignored.
const SyncTag = "sync-offline-requests"

// Sync handles a connectivity-restored signal for the given tag.
func (a *OfflineCache) Sync(tag string) {
	if tag != SyncTag {
		a.log.Trace().Str("tag", tag).Msg("Ignoring sync signal with unknown tag")
		return
	}
	a.queue.Replay()
}

// watchConnectivity probes the origin on an interval and fires the sync
// signal on every offline to online transition, so queued writes replay as
// soon as the origin is reachable again.
func (a *OfflineCache) watchConnectivity() {
	a.log.Info().Msgf("Watching connectivity with %s interval", a.syncInterval)
	online := true
	for {
		time.Sleep(a.syncInterval)
		nowOnline := a.probeOrigin()
		if nowOnline && !online {
			a.log.Info().Msg("Connectivity restored")
			a.Sync(SyncTag)
		}
		online = nowOnline
	}
}

// probeOrigin checks whether the origin is reachable. Any response counts,
// also HTTP errors, since only transport failures mean offline.
func (a *OfflineCache) probeOrigin() bool {
	req, err := http.NewRequest(http.MethodHead, a.precache[0], nil)
	if err != nil {
		return false
	}
	res, err := a.fetcher.Fetch(req)
	if err != nil {
		a.log.Trace().Err(err).Msg("Origin probe failed")
		return false
	}
	res.Body.Close()
	return true
}
