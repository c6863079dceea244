package offlinecache

import (
	"net/http"
	"strings"
	"testing"

	"github.com/offline-cache/offline-cache/cache"
)

func TestInstallPopulatesManifest(t *testing.T) {
	mux := newShellMux()
	mux.HandleFunc("/icon.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("icon"))
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"app"}`))
	})
	provider := cache.NewMemCache()
	a, _ := newTestCache(mux, Config{
		Cache:    provider,
		Precache: []string{"/", "/icon.png", "/manifest.json"},
	})

	if a.State() != StateActive {
		t.Fatalf("State is %s", a.State())
	}
	for _, path := range []string{"/", "/icon.png", "/manifest.json"} {
		if !provider.Has("assets-v1:GET:" + path) {
			t.Fatalf("Missing manifest entry for %s", path)
		}
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	provider := cache.NewMemCache()
	// the second manifest entry 404s, so the whole install must fail
	a, _ := newTestCache(newShellMux(), Config{
		Cache:    provider,
		Precache: []string{"/", "/missing.png"},
	})

	if a.State() != StateInstalling {
		t.Fatalf("State is %s", a.State())
	}
	if provider.Has("assets-v1:GET:/") {
		t.Fatal("Partial install left entries behind")
	}

	// until the install goes through every request passes through
	rr := get(a, "/", nil)
	if rr.Body.String() != "offline shell" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
	if status := rr.Header().Get("Cache-Status"); !strings.Contains(status, "fwd=bypass") {
		t.Fatalf("Cache-Status is %s", status)
	}
}

func TestActivationRemovesStaleNamespaces(t *testing.T) {
	provider := cache.NewMemCache()
	provider.Put("assets-v0:GET:/old", []byte("stale asset"))
	provider.Put("offline-writes-v0:someid", []byte("stale write"))
	provider.Put("offline-writes-v1:keep", []byte(`{"id":"keep","url":"/api/x","method":"POST"}`))

	a, _ := newTestCache(newShellMux(), Config{Cache: provider, Version: 1})

	if !a.Active() {
		t.Fatalf("State is %s", a.State())
	}
	if provider.Has("assets-v0:GET:/old") {
		t.Fatal("Stale asset namespace survived activation")
	}
	if provider.Has("offline-writes-v0:someid") {
		t.Fatal("Stale write namespace survived activation")
	}
	// the current-version queue and the fresh install stay untouched
	if !provider.Has("offline-writes-v1:keep") {
		t.Fatal("Current write namespace was purged")
	}
	if !provider.Has("assets-v1:GET:/") {
		t.Fatal("Fresh install was purged")
	}
}

func TestVersionUpgradeDropsOldAssets(t *testing.T) {
	mux := newShellMux()
	mux.HandleFunc("/img/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("logo"))
	})
	provider := cache.NewMemCache()

	v1, _ := newTestCache(mux, Config{Cache: provider, Version: 1})
	get(v1, "/img/logo.png", nil)
	if !provider.Has("assets-v1:GET:/img/logo.png") {
		t.Fatal("Runtime entry was not stored")
	}

	v2, _ := newTestCache(mux, Config{Cache: provider, Version: 2})
	if !v2.Active() {
		t.Fatalf("State is %s", v2.State())
	}
	if provider.Has("assets-v1:GET:/img/logo.png") {
		t.Fatal("Old asset namespace survived the upgrade")
	}
	if provider.Has("assets-v1:GET:/") {
		t.Fatal("Old install survived the upgrade")
	}
	if !provider.Has("assets-v2:GET:/") {
		t.Fatal("New install is missing")
	}
}

func TestSkipWaitingIsNoOpOnceActive(t *testing.T) {
	a, _ := newTestCache(newShellMux(), Config{})
	if !a.Active() {
		t.Fatalf("State is %s", a.State())
	}
	a.SkipWaiting()
	if !a.Active() {
		t.Fatalf("State is %s", a.State())
	}
}
