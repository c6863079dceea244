package offlinecache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/offline-cache/offline-cache/cache"
	cachekey "github.com/offline-cache/offline-cache/pkg/cache-key"
)

// LifecycleState is the install and activation state of the cache.
// Strategy handling only starts once the cache is active, before that all
// requests pass through to the origin.
type LifecycleState string

const (
	StateInstalling LifecycleState = "installing"
	StateInstalled  LifecycleState = "installed"
	StateActivating LifecycleState = "activating"
	StateActive     LifecycleState = "active"
)

const installRetryInterval = time.Second * 10

// State returns the current lifecycle state.
func (a *OfflineCache) State() LifecycleState {
	a.stateMutex.RLock()
	defer a.stateMutex.RUnlock()
	return a.state
}

// Active reports whether the cache is handling requests.
func (a *OfflineCache) Active() bool {
	return a.State() == StateActive
}

func (a *OfflineCache) setState(state LifecycleState) {
	a.stateMutex.Lock()
	a.state = state
	a.stateMutex.Unlock()
	a.log.Debug().Str("state", string(state)).Msg("Lifecycle state changed")
}

// install populates the asset namespace with the precache manifest.
// Entries are staged in memory first, so a failed fetch leaves nothing
// behind and the install can be retried as a whole.
func (a *OfflineCache) install() error {
	a.setState(StateInstalling)
	staged := make([]cache.CacheEntry, 0, len(a.precache))
	for _, path := range a.precache {
		req, err := http.NewRequest(http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("Could not create request for %s: %v", path, err)
		}
		res, err := a.fetcher.Fetch(req)
		if err != nil {
			return fmt.Errorf("Could not precache %s: %v", path, err)
		}
		if !isSuccess(res.StatusCode) {
			return fmt.Errorf("Could not precache %s: got status %d", path, res.StatusCode)
		}
		entry, err := entryForResponse(a.assetKeyer.ForPath(http.MethodGet, path), res)
		res.Body.Close()
		if err != nil {
			return fmt.Errorf("Could not read response for %s: %v", path, err)
		}
		staged = append(staged, entry)
	}
	for _, entry := range staged {
		if err := a.cache.PutCE(entry); err != nil {
			// do not leave a partially written namespace behind
			a.cache.PurgePrefix(a.assetKeyer.NamespacePrefix)
			return fmt.Errorf("Could not commit precache: %v", err)
		}
	}
	a.setState(StateInstalled)
	a.log.Info().
		Int("assets", len(staged)).
		Msg("Install complete")
	return nil
}

// retryInstall keeps retrying a failed install.
// Requests pass straight through to the origin until it succeeds.
func (a *OfflineCache) retryInstall() {
	for {
		time.Sleep(installRetryInterval)
		err := a.install()
		if err == nil {
			if !a.holdActivation {
				a.activate()
			}
			return
		}
		a.log.Warn().Err(err).Msg("Install failed, retrying")
	}
}

// activate removes every namespace other than the current asset and
// offline-write namespaces and starts handling requests.
func (a *OfflineCache) activate() {
	a.setState(StateActivating)
	current := map[string]bool{
		a.assetKeyer.Namespace: true,
		a.queueKeyer.Namespace: true,
	}
	stale := make(map[string]bool)
	a.cache.AllKeys("", func(key string) {
		namespace := cachekey.Namespace(key)
		if namespace != "" && !current[namespace] {
			stale[namespace] = true
		}
	})
	for namespace := range stale {
		a.log.Info().Str("stale", namespace).Msg("Removing outdated namespace")
		a.cache.PurgePrefix(namespace + ":")
	}
	a.setState(StateActive)
	a.log.Info().Msg("Activated")
}

// SkipWaiting activates the cache right away instead of waiting for the
// activation hold to be released. It is a no-op unless the install is
// complete and the cache is parked.
func (a *OfflineCache) SkipWaiting() {
	if a.State() != StateInstalled {
		a.log.Debug().Str("state", string(a.State())).Msg("Ignoring skip waiting")
		return
	}
	a.log.Info().Msg("Skipping wait, activating now")
	a.activate()
}
