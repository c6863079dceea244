package strategy

import (
	"net/http"
	"path"
	"strings"
)

// Strategy names the policy that decides whether a request is answered from
// the cache, the network, or a blend of the two.
type Strategy string

const (
	// CacheFirst serves from the cache and only goes to the network on a miss.
	CacheFirst Strategy = "cache-first"
	// NetworkFirst serves from the network and falls back to the cache.
	NetworkFirst Strategy = "network-first"
	// StaleWhileRevalidate serves from the cache and refreshes in the background.
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	// NetworkOnly never touches the cache.
	NetworkOnly Strategy = "network-only"
	// CacheOnly never touches the network.
	CacheOnly Strategy = "cache-only"
)

// Valid reports whether the tag is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate, NetworkOnly, CacheOnly:
		return true
	}
	return false
}

// Selector maps a request to the strategy that should handle it.
// Selection depends only on the request attributes, so the same request
// always gets the same strategy.
type Selector struct {
	// Path prefix of the mutating API, e.g. "/api/".
	APIPrefix string
	// Rules are checked before the built-in decision order, first match wins.
	Rules Rules
}

// Select returns the strategy for the given request.
// The built-in decision order is:
//  1. image and font requests are served cache-first
//  2. API requests are served network-first
//  3. navigations are served network-first
//  4. script and style requests are served stale-while-revalidate
//  5. everything else is served network-first
func (s Selector) Select(r *http.Request) Strategy {
	if rule := s.Rules.find(r); rule != nil {
		return rule.Strategy
	}
	switch Destination(r) {
	case "image", "font":
		return CacheFirst
	}
	if s.APIPrefix != "" && strings.HasPrefix(r.URL.Path, s.APIPrefix) {
		return NetworkFirst
	}
	if IsNavigation(r) {
		return NetworkFirst
	}
	switch Destination(r) {
	case "script", "style":
		return StaleWhileRevalidate
	}
	return NetworkFirst
}

// Destination returns the destination kind of the request, e.g. "image".
// The Sec-Fetch-Dest header is authoritative when present. The path
// extension is used as a fallback for clients without fetch metadata.
func Destination(r *http.Request) string {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest
	}
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico":
		return "image"
	case ".woff", ".woff2", ".ttf", ".otf":
		return "font"
	case ".js", ".mjs":
		return "script"
	case ".css":
		return "style"
	}
	return ""
}

// IsNavigation reports whether the request is a top-level document load.
// The Sec-Fetch-Mode header is authoritative when present, the Accept
// header is used as a fallback.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
