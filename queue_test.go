package offlinecache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/offline-cache/offline-cache/cache"
	cachekey "github.com/offline-cache/offline-cache/pkg/cache-key"

	"github.com/rs/zerolog/log"
)

func newTestQueue(fetcher Fetcher) (*WriteQueue, cache.MemCache) {
	provider := cache.NewMemCache()
	keyer := cachekey.NewCacheKeyer("offline-writes-v1")
	return NewWriteQueue(provider, keyer, fetcher, "/api/", log.Logger), provider
}

func TestOfflineApiWriteGetsQueuedAck(t *testing.T) {
	a, fetcher := newTestCache(newShellMux(), Config{})
	fetcher.setOffline(true)

	req := httptest.NewRequest("POST", "/api/todos", strings.NewReader(`{"title":"offline todo"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Status is %d", rr.Code)
	}
	var ack struct {
		Success bool   `json:"success"`
		Offline bool   `json:"offline"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Success || !ack.Offline || ack.ID == "" {
		t.Fatalf("Ack is %+v", ack)
	}
	if status := rr.Header().Get("Cache-Status"); !strings.Contains(status, "offline-queued") {
		t.Fatalf("Cache-Status is %s", status)
	}

	writes, err := a.queue.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 1 {
		t.Fatalf("Queue holds %d writes", len(writes))
	}
	write := writes[0]
	if write.Method != "POST" || write.URL != "/api/todos" {
		t.Fatalf("Write is %+v", write)
	}
	if write.Body != `{"title":"offline todo"}` {
		t.Fatalf("Body is %s", write.Body)
	}
	if write.Headers["Content-Type"] != "application/json" {
		t.Fatalf("Headers are %v", write.Headers)
	}
	if write.EnqueuedAt.IsZero() {
		t.Fatal("EnqueuedAt not set")
	}
}

func TestOnlineApiWritePassesThrough(t *testing.T) {
	mux := newShellMux()
	mux.HandleFunc("/api/todos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})
	a, _ := newTestCache(mux, Config{})

	req := httptest.NewRequest("POST", "/api/todos", strings.NewReader(`{"title":"now"}`))
	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Status is %d", rr.Code)
	}
	if rr.Body.String() != "created" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
	if count := a.queue.Count(); count != 0 {
		t.Fatalf("Queue holds %d writes", count)
	}
}

func TestNonApiWritesAreNotQueued(t *testing.T) {
	a, fetcher := newTestCache(newShellMux(), Config{})
	fetcher.setOffline(true)

	req := httptest.NewRequest("POST", "/contact", strings.NewReader("name=x"))
	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}
	if count := a.queue.Count(); count != 0 {
		t.Fatalf("Queue holds %d writes", count)
	}
}

func TestReplayKeepsFailedWritesQueued(t *testing.T) {
	offline := true
	rejectB := false
	failB := false
	var replayed []string
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		if offline {
			return nil, fmt.Errorf("Network down")
		}
		if r.URL.Path == "/api/b" {
			if failB {
				return nil, fmt.Errorf("Connection reset")
			}
			if rejectB {
				return plainResponse(http.StatusInternalServerError, "boom"), nil
			}
		}
		replayed = append(replayed, r.URL.Path)
		return plainResponse(http.StatusOK, "ok"), nil
	})
	q, _ := newTestQueue(fetcher)

	// 1. three writes arrive while the network is down
	for _, path := range []string{"/api/a", "/api/b", "/api/c"} {
		req := httptest.NewRequest("POST", path, strings.NewReader("payload for "+path))
		_, queued, err := q.Dispatch(req)
		if err != nil {
			t.Fatal(err)
		}
		if !queued {
			t.Fatalf("Write to %s was not queued", path)
		}
	}
	if count := q.Count(); count != 3 {
		t.Fatalf("Count is %d", count)
	}

	// 2. the origin rejects b, so b stays queued while a and c drain
	offline = false
	rejectB = true
	q.Replay()
	writes, err := q.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 1 || writes[0].URL != "/api/b" {
		t.Fatalf("Queue is %+v", writes)
	}

	// 3. a transport failure keeps b queued as well
	rejectB = false
	failB = true
	q.Replay()
	if count := q.Count(); count != 1 {
		t.Fatalf("Count is %d", count)
	}

	// 4. once b goes through the queue is empty
	failB = false
	q.Replay()
	if count := q.Count(); count != 0 {
		t.Fatalf("Count is %d", count)
	}
	if len(replayed) != 3 || replayed[0] != "/api/a" || replayed[1] != "/api/c" || replayed[2] != "/api/b" {
		t.Fatalf("Replayed %v", replayed)
	}
}

func TestReplaySendsOriginalHeadersAndBody(t *testing.T) {
	offline := true
	var replayedReq *http.Request
	var replayedBody []byte
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		if offline {
			return nil, fmt.Errorf("Network down")
		}
		replayedReq = r
		replayedBody, _ = io.ReadAll(r.Body)
		return plainResponse(http.StatusOK, "ok"), nil
	})
	q, _ := newTestQueue(fetcher)

	req := httptest.NewRequest("PUT", "/api/things/1?force=true", strings.NewReader(`{"n":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "abc-123")
	if _, queued, err := q.Dispatch(req); err != nil || !queued {
		t.Fatalf("Dispatch queued=%v err=%v", queued, err)
	}

	offline = false
	q.Replay()

	if replayedReq == nil {
		t.Fatal("Write was not replayed")
	}
	if replayedReq.Method != "PUT" {
		t.Fatalf("Method is %s", replayedReq.Method)
	}
	if replayedReq.URL.RequestURI() != "/api/things/1?force=true" {
		t.Fatalf("URL is %s", replayedReq.URL.RequestURI())
	}
	if string(replayedBody) != `{"n":1}` {
		t.Fatalf("Body is %s", replayedBody)
	}
	if replayedReq.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("Headers are %v", replayedReq.Header)
	}
	if replayedReq.Header.Get("X-Request-Id") != "abc-123" {
		t.Fatalf("Headers are %v", replayedReq.Header)
	}
}

func TestListReturnsInsertionOrder(t *testing.T) {
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("Network down")
	})
	q, _ := newTestQueue(fetcher)

	for _, path := range []string{"/api/first", "/api/second", "/api/third"} {
		req := httptest.NewRequest("POST", path, strings.NewReader("x"))
		if _, _, err := q.Dispatch(req); err != nil {
			t.Fatal(err)
		}
	}

	writes, err := q.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 3 {
		t.Fatalf("Queue holds %d writes", len(writes))
	}
	if writes[0].URL != "/api/first" || writes[1].URL != "/api/second" || writes[2].URL != "/api/third" {
		t.Fatalf("Queue is %+v", writes)
	}
}

func TestReplayDropsUnreadableEntries(t *testing.T) {
	fetcher := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return plainResponse(http.StatusOK, "ok"), nil
	})
	q, provider := newTestQueue(fetcher)
	if err := provider.Put("offline-writes-v1:bad", []byte("not json")); err != nil {
		t.Fatal(err)
	}

	q.Replay()

	if count := q.Count(); count != 0 {
		t.Fatalf("Count is %d", count)
	}
}
