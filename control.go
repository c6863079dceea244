package offlinecache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/offline-cache/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ControlPrefix is the reserved path prefix for the control channel.
// Requests under it are answered by the cache itself, never forwarded.
const ControlPrefix = "/.offline-cache"

// Control message types accepted by the controller.
const (
	MessageSkipWaiting        = "SKIP_WAITING"
	MessageGetCacheSize       = "GET_CACHE_SIZE"
	MessageClearCache         = "CLEAR_CACHE"
	MessageGetOfflineRequests = "GET_OFFLINE_REQUESTS"
)

// ControlMessage is a single command from the host application.
type ControlMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ControlReply is the reply to a control message. Payload is the
// command-specific result, nil for commands that only have side effects.
type ControlReply struct {
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Command-specific reply payloads.
type CacheSizeReply struct {
	Size int64 `json:"size"`
}
type ClearCacheReply struct {
	Success bool `json:"success"`
}
type OfflineRequestsReply struct {
	Requests []QueuedWrite `json:"requests"`
}

// Controller answers control messages from the host application.
// Dependencies are injected so every command can be tested in isolation.
type Controller struct {
	cache       cache.CacheProvider
	assetPrefix string
	queuePrefix string
	queue       *WriteQueue
	skipWaiting func()
	log         zerolog.Logger
}

func NewController(provider cache.CacheProvider, assetPrefix, queuePrefix string, queue *WriteQueue, skipWaiting func(), logger zerolog.Logger) *Controller {
	return &Controller{
		cache:       provider,
		assetPrefix: assetPrefix,
		queuePrefix: queuePrefix,
		queue:       queue,
		skipWaiting: skipWaiting,
		log:         logger.With().Str("component", "controller").Logger(),
	}
}

// Handle runs a single control message and posts exactly one reply on the
// given channel, also for unknown message types, so the caller is never
// left waiting.
func (c *Controller) Handle(msg ControlMessage, reply chan<- ControlReply) {
	c.log.Debug().Str("type", msg.Type).Msg("Handling control message")
	switch msg.Type {
	case MessageSkipWaiting:
		c.skipWaiting()
		reply <- ControlReply{}
	case MessageGetCacheSize:
		size, err := c.cache.Size(c.assetPrefix)
		if err != nil {
			c.log.Error().Err(err).Msg("Could not compute cache size")
			reply <- ControlReply{Error: "Could not compute cache size"}
			return
		}
		reply <- ControlReply{Payload: CacheSizeReply{Size: size}}
	case MessageClearCache:
		c.cache.PurgePrefix(c.assetPrefix)
		c.cache.PurgePrefix(c.queuePrefix)
		c.log.Info().Msg("Cleared cache")
		reply <- ControlReply{Payload: ClearCacheReply{Success: true}}
	case MessageGetOfflineRequests:
		writes, err := c.queue.List()
		if err != nil {
			c.log.Error().Err(err).Msg("Could not list queued writes")
			reply <- ControlReply{Error: "Could not list queued writes"}
			return
		}
		reply <- ControlReply{Payload: OfflineRequestsReply{Requests: writes}}
	default:
		reply <- ControlReply{Error: fmt.Sprintf("Unknown message type: %s", msg.Type)}
	}
}

// StatusReply describes the running cache for the status endpoint.
type StatusReply struct {
	State          LifecycleState `json:"state"`
	AssetNamespace string         `json:"assets"`
	QueueNamespace string         `json:"offlineWrites"`
	QueuedWrites   int            `json:"queuedWrites"`
	CacheSize      int64          `json:"cacheSize"`
}

// controlRouter exposes the control channel over HTTP under ControlPrefix.
func (a *OfflineCache) controlRouter() http.Handler {
	r := chi.NewRouter()
	r.Route(ControlPrefix, func(r chi.Router) {
		r.Post("/message", a.handleMessage)
		r.Post("/sync", a.handleSync)
		r.Get("/status", a.handleStatus)
	})
	return r
}

func (a *OfflineCache) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Malformed control message", http.StatusBadRequest)
		return
	}
	replyCh := make(chan ControlReply, 1)
	a.controller.Handle(msg, replyCh)
	reply := <-replyCh

	w.Header().Set("Content-Type", "application/json")
	if reply.Error != "" {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": reply.Error})
		return
	}
	// on the wire the reply is the bare payload
	payload := reply.Payload
	if payload == nil {
		payload = struct{}{}
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Error().Err(err).Msg("Could not write control reply")
	}
}

func (a *OfflineCache) handleSync(w http.ResponseWriter, r *http.Request) {
	var trigger struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		http.Error(w, "Malformed sync trigger", http.StatusBadRequest)
		return
	}
	go a.Sync(trigger.Tag)
	w.WriteHeader(http.StatusAccepted)
	io.WriteString(w, "Sync scheduled")
}

func (a *OfflineCache) handleStatus(w http.ResponseWriter, r *http.Request) {
	size, err := a.cache.Size(a.assetKeyer.NamespacePrefix)
	if err != nil {
		a.log.Error().Err(err).Msg("Could not compute cache size")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusReply{
		State:          a.State(),
		AssetNamespace: a.assetKeyer.Namespace,
		QueueNamespace: a.queueKeyer.Namespace,
		QueuedWrites:   a.queue.Count(),
		CacheSize:      size,
	})
}
