package offlinecache

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/offline-cache/offline-cache/cache"
	cachekey "github.com/offline-cache/offline-cache/pkg/cache-key"
	"github.com/offline-cache/offline-cache/pkg/strategy"

	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for cache entries.
	// The asset and offline-write namespaces share one provider.
	Cache cache.CacheProvider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Only needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Fetcher overrides the network leg. Use it e.g. for running the cache
	// as middleware in front of an in-process handler.
	// OriginURL and OriginHost are ignored when set.
	Fetcher Fetcher
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Version of the cache namespaces, 1 if unset.
	// Bumping the version makes activation remove all entries of prior
	// versions.
	Version int
	// Paths fetched and cached at install time.
	// Defaults to just "/".
	Precache []string
	// Path of the offline shell served to navigations when both network
	// and cache miss. Defaults to the first precache path.
	Shell string
	// Path prefix of the mutating API, "/api/" if unset.
	APIPrefix string
	// Strategy overrides checked before the built-in selection order.
	Rules strategy.Rules
	// Eviction policy for the asset namespace. Everything is kept if nil.
	Eviction cache.EvictionPolicy
	// Hold activation until a SKIP_WAITING control message arrives.
	HoldActivation bool
	// Disable the connectivity watcher, i.e. replay queued writes only on
	// an explicit sync signal.
	DisableSync bool
	// Interval between connectivity probes, 30s if unset.
	SyncInterval time.Duration
}

type OfflineCache struct {
	cache      cache.CacheProvider
	fetcher    Fetcher
	log        zerolog.Logger
	selector   strategy.Selector
	assetKeyer cachekey.CacheKeyer
	queueKeyer cachekey.CacheKeyer
	queue      *WriteQueue
	controller *Controller
	control    http.Handler
	eviction   cache.EvictionPolicy
	precache   []string
	shellKey   string

	holdActivation bool
	syncInterval   time.Duration

	stateMutex sync.RWMutex
	state      LifecycleState
}

// CreateCache initializes the offline-cache instance.
// It installs the precache manifest, activates the cache,
// and starts the needed background processes.
func CreateCache(config Config) *OfflineCache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	version := config.Version
	if version <= 0 {
		version = 1
	}
	assetKeyer := cachekey.NewCacheKeyer(fmt.Sprintf("assets-v%d", version))
	queueKeyer := cachekey.NewCacheKeyer(fmt.Sprintf("offline-writes-v%d", version))

	// create a child logger and add defaults
	logger = logger.With().
		Str("namespace", assetKeyer.Namespace).
		Logger()

	provider := config.Cache
	if provider == nil {
		provider = cache.NewMemCache()
	}
	fetcher := config.Fetcher
	if fetcher == nil {
		fetcher = NewOriginFetcher(config.OriginURL, config.OriginHost)
	}
	eviction := config.Eviction
	if eviction == nil {
		eviction = cache.NoEviction{}
	}
	precache := config.Precache
	if len(precache) == 0 {
		precache = []string{"/"}
	}
	shell := config.Shell
	if shell == "" {
		shell = precache[0]
	}
	apiPrefix := config.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}
	syncInterval := config.SyncInterval
	if syncInterval <= 0 {
		syncInterval = time.Second * 30
	}

	a := &OfflineCache{
		cache:      provider,
		fetcher:    fetcher,
		log:        logger,
		assetKeyer: assetKeyer,
		queueKeyer: queueKeyer,
		selector: strategy.Selector{
			APIPrefix: apiPrefix,
			Rules:     config.Rules,
		},
		eviction:       eviction,
		precache:       precache,
		shellKey:       assetKeyer.ForPath(http.MethodGet, shell),
		holdActivation: config.HoldActivation,
		syncInterval:   syncInterval,
		state:          StateInstalling,
	}
	a.queue = NewWriteQueue(provider, queueKeyer, fetcher, apiPrefix, logger)
	a.controller = NewController(provider, assetKeyer.NamespacePrefix, queueKeyer.NamespacePrefix, a.queue, a.SkipWaiting, logger)
	a.control = a.controlRouter()

	if err := a.install(); err != nil {
		// serve as a passthrough until the whole manifest can be fetched
		a.log.Error().Err(err).Msg("Install failed, retrying in background")
		go a.retryInstall()
	} else if !a.holdActivation {
		a.activate()
	}

	// start a goroutine to watch for connectivity changes
	if !config.DisableSync {
		go a.watchConnectivity()
	}

	return a
}

// ServeHTTP implements the http.Handler interface.
func (a *OfflineCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ControlPrefix || strings.HasPrefix(r.URL.Path, ControlPrefix+"/") {
		a.control.ServeHTTP(w, r)
		return
	}

	var cs CacheStatus

	// until activation all requests go straight to the origin
	if !a.Active() {
		cs.Forward(CacheStatusFwdBypass)
		cs.Detail("inactive")
		a.passthrough(w, r, cs)
		return
	}

	if r.Method != http.MethodGet {
		a.handleMutation(w, r)
		return
	}

	strat := a.selector.Select(r)
	res, err := a.execute(strat, r, &cs)
	if err != nil {
		a.sendError(w, r, err, cs)
		return
	}
	a.send(w, r, res, cs)
}

// handleMutation forwards a non-GET request to the origin. Mutating API
// requests that fail on the network get queued for replay and acknowledged
// with a synthetic 202 response.
func (a *OfflineCache) handleMutation(w http.ResponseWriter, r *http.Request) {
	var cs CacheStatus
	cs.Forward(CacheStatusFwdMethod)
	if !a.queue.Matches(r) {
		a.passthrough(w, r, cs)
		return
	}
	res, queued, err := a.queue.Dispatch(r)
	if err != nil {
		a.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not queue offline write")
		cs.Detail("queue-failure")
		a.sendError(w, r, ErrorNetworkUnavailable, cs)
		return
	}
	if queued {
		cs.Detail("offline-queued")
	}
	a.send(w, r, res, cs)
}

// passthrough forwards the request to the origin untouched.
func (a *OfflineCache) passthrough(w http.ResponseWriter, r *http.Request, cs CacheStatus) {
	res, err := a.fetcher.Fetch(r)
	if err != nil {
		cs.Detail("network-unavailable")
		a.sendError(w, r, ErrorNetworkUnavailable, cs)
		return
	}
	a.send(w, r, res, cs)
}

func (a *OfflineCache) send(w http.ResponseWriter, r *http.Request, res *http.Response, cacheStatus CacheStatus) {
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cacheStatus.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
	a.logRequest(r, cacheStatus)
	a.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// sendError maps an engine failure to the client-facing error response.
func (a *OfflineCache) sendError(w http.ResponseWriter, r *http.Request, err error, cacheStatus CacheStatus) {
	w.Header().Add("Cache-Status", cacheStatus.String())
	switch err {
	case ErrorNotFound:
		http.Error(w, "Not found in cache", http.StatusBadGateway)
	default:
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
	}
	a.logRequest(r, cacheStatus)
}

func (a *OfflineCache) logRequest(r *http.Request, cs CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	a.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.status)).
		Str("fwd", string(cs.fwdReason)).
		Str("strategy", string(cs.strategy)).
		Bool("stored", cs.stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
