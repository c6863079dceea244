package offlinecache

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/offline-cache/offline-cache/cache"
	cachekey "github.com/offline-cache/offline-cache/pkg/cache-key"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// QueuedWrite is a mutating request that failed because the network was
// unreachable, stored with everything needed to replay it later.
type QueuedWrite struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// WriteQueue holds mutating API requests that could not reach the origin and
// replays them once connectivity returns. Queue entries live in their own
// namespace of the shared cache provider, keyed by time-ordered ids, so
// listing the namespace yields insertion order.
type WriteQueue struct {
	cache     cache.CacheProvider
	keyer     cachekey.CacheKeyer
	fetcher   Fetcher
	apiPrefix string
	log       zerolog.Logger

	mutex     sync.Mutex
	replaying bool
}

func NewWriteQueue(provider cache.CacheProvider, keyer cachekey.CacheKeyer, fetcher Fetcher, apiPrefix string, logger zerolog.Logger) *WriteQueue {
	return &WriteQueue{
		cache:     provider,
		keyer:     keyer,
		fetcher:   fetcher,
		apiPrefix: apiPrefix,
		log:       logger.With().Str("component", "write-queue").Logger(),
	}
}

// Matches reports whether the request is a mutating API request, i.e. one
// the queue is responsible for when the network fails.
func (q *WriteQueue) Matches(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	return q.apiPrefix != "" && strings.HasPrefix(r.URL.Path, q.apiPrefix)
}

// Dispatch sends the write to the origin. When the network is unreachable
// the write is queued for replay instead and a synthetic 202 acknowledgement
// is returned, with queued set to true. An error means the write failed and
// could not be queued either.
func (q *WriteQueue) Dispatch(r *http.Request) (res *http.Response, queued bool, err error) {
	// buffer the body up front, the network attempt consumes it
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, false, err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	res, err = q.fetcher.Fetch(r)
	if err == nil {
		return res, false, nil
	}
	q.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin unreachable, queueing write")
	write, err := q.Enqueue(r, body)
	if err != nil {
		return nil, false, err
	}
	return acceptedResponse(write), true, nil
}

// Enqueue persists the failed write. The entry is marshaled fully in memory
// and committed with a single put.
func (q *WriteQueue) Enqueue(r *http.Request, body []byte) (QueuedWrite, error) {
	write := QueuedWrite{
		ID:         xid.New().String(),
		URL:        r.URL.RequestURI(),
		Method:     r.Method,
		Headers:    flattenHeader(r.Header),
		Body:       string(body),
		EnqueuedAt: time.Now(),
	}
	bts, err := json.Marshal(write)
	if err != nil {
		return write, err
	}
	if err := q.cache.Put(q.keyer.ForID(write.ID), bts); err != nil {
		return write, err
	}
	q.log.Info().
		Str("id", write.ID).
		Str("method", write.Method).
		Str("url", write.URL).
		Msg("Queued offline write")
	return write, nil
}

// Replay reissues every queued write in insertion order. Writes that get a
// success status are removed, everything else stays queued for the next
// replay. Only one replay pass runs at a time.
func (q *WriteQueue) Replay() {
	q.mutex.Lock()
	if q.replaying {
		q.mutex.Unlock()
		return
	}
	q.replaying = true
	q.mutex.Unlock()
	defer func() {
		q.mutex.Lock()
		q.replaying = false
		q.mutex.Unlock()
	}()

	entries, err := q.cache.All(q.keyer.NamespacePrefix)
	if err != nil {
		q.log.Error().Err(err).Msg("Could not list queued writes")
		return
	}
	if len(entries) == 0 {
		return
	}
	q.log.Info().Int("count", len(entries)).Msg("Replaying queued writes")
	for _, entry := range entries {
		var write QueuedWrite
		if err := json.Unmarshal(entry.Bytes, &write); err != nil {
			// an unreadable entry can never replay, drop it
			q.log.Error().Err(err).Str("key", entry.Key).Msg("Could not read queued write")
			q.cache.Purge(entry.Key)
			continue
		}
		if q.replayOne(write) {
			q.cache.Purge(entry.Key)
		}
	}
}

// replayOne reissues a single queued write and reports whether it succeeded.
func (q *WriteQueue) replayOne(write QueuedWrite) bool {
	req, err := http.NewRequest(write.Method, write.URL, strings.NewReader(write.Body))
	if err != nil {
		q.log.Error().Err(err).Str("id", write.ID).Msg("Could not create replay request")
		return false
	}
	for name, value := range write.Headers {
		req.Header.Set(name, value)
	}
	res, err := q.fetcher.Fetch(req)
	if err != nil {
		q.log.Warn().Err(err).Str("id", write.ID).Msg("Replay failed, keeping write queued")
		return false
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if !isSuccess(res.StatusCode) {
		q.log.Warn().
			Int("status", res.StatusCode).
			Str("id", write.ID).
			Msg("Replay rejected by origin, keeping write queued")
		return false
	}
	q.log.Info().Str("id", write.ID).Str("url", write.URL).Msg("Replayed queued write")
	return true
}

// List returns all queued writes in insertion order.
func (q *WriteQueue) List() ([]QueuedWrite, error) {
	entries, err := q.cache.All(q.keyer.NamespacePrefix)
	if err != nil {
		return nil, err
	}
	writes := make([]QueuedWrite, 0, len(entries))
	for _, entry := range entries {
		var write QueuedWrite
		if err := json.Unmarshal(entry.Bytes, &write); err != nil {
			q.log.Warn().Err(err).Str("key", entry.Key).Msg("Skipping unreadable queued write")
			continue
		}
		writes = append(writes, write)
	}
	return writes, nil
}

// Count returns the number of queued writes.
func (q *WriteQueue) Count() int {
	count := 0
	q.cache.AllKeys(q.keyer.NamespacePrefix, func(string) {
		count++
	})
	return count
}

// acceptedResponse synthesizes the 202 acknowledgement for a queued write.
// The offline marker tells the caller the write was deferred, not executed.
func acceptedResponse(write QueuedWrite) *http.Response {
	body, _ := json.Marshal(map[string]any{
		"success": true,
		"offline": true,
		"id":      write.ID,
	})
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        http.StatusText(http.StatusAccepted),
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// flattenHeader flattens a header to single values, which is all a replayed
// request carries.
func flattenHeader(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for name := range h {
		flat[name] = h.Get(name)
	}
	return flat
}
