package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	namespaceSeparator = ":"
	methodSeparator    = ":"
)

// CacheKeyer creates cache keys for a single namespace.
// Keys from all namespaces live in the same provider, so every key carries
// its namespace as a prefix.
type CacheKeyer struct {
	// Name of the namespace, e.g. "assets-v1".
	Namespace string
	// Cache key prefix for this namespace.
	NamespacePrefix string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	return CacheKeyer{
		Namespace:       namespace,
		NamespacePrefix: namespace + namespaceSeparator,
	}
}

// GetKey returns the cache key for a request.
// The key depends only on the method and the full request URI, so two
// requests for the same resource always map to the same entry.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.NamespacePrefix + r.Method + methodSeparator + r.URL.RequestURI()
}

// ForPath returns the cache key for a method and path without a request.
// Used for manifest paths known at install time.
func (c CacheKeyer) ForPath(method, path string) string {
	return c.NamespacePrefix + method + methodSeparator + path
}

// ForID returns the cache key for an opaque id, e.g. a queued write id.
func (c CacheKeyer) ForID(id string) string {
	return c.NamespacePrefix + id
}

// GetRequestFromKey generates a caching-wise equal request than the request
// that resulted in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.NamespacePrefix) {
		return nil, fmt.Errorf("Key and namespace do not match")
	}
	keyNoNamespace := strings.TrimPrefix(key, c.NamespacePrefix)
	method, uri, found := strings.Cut(keyNoNamespace, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	return http.NewRequest(method, uri, nil)
}

// Namespace returns the namespace of any key produced by a CacheKeyer.
// Needed when enumerating the whole store, e.g. for version cleanup.
func Namespace(key string) string {
	namespace, _, found := strings.Cut(key, namespaceSeparator)
	if !found {
		return ""
	}
	return namespace
}
