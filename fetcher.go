package offlinecache

import (
	"crypto/tls"
	"net/http"
	"net/url"

	tee "github.com/offline-cache/offline-cache/pkg/response-writer-tee"
)

// Fetcher is the network leg of the cache.
// An error return means the network is unreachable, which is what the
// offline handling keys off. HTTP error statuses are normal responses.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// OriginFetcher fetches responses from an origin server over HTTP.
type OriginFetcher struct {
	originURL  url.URL
	originHost string
	client     *http.Client
}

// NewOriginFetcher creates a fetcher for the given origin.
// The host overrides the hostname for HTTP requests and TLS negotiation,
// use it e.g. when the origin URL is just an IP address.
func NewOriginFetcher(originURL url.URL, originHost string) *OriginFetcher {
	client := &http.Client{
		// do not follow redirects, they belong to the client
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if originHost != "" {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return &OriginFetcher{
		originURL:  originURL,
		originHost: originHost,
		client:     client,
	}
}

// Fetch requests the resource specified in the incoming request from the origin.
func (f *OriginFetcher) Fetch(r *http.Request) (*http.Response, error) {
	uri := f.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequest(r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	if f.originHost != "" {
		req.Host = f.originHost
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble downstream
	req.Header.Del("Connection")
	return f.client.Do(req)
}

// HandlerFetcher fetches responses from an in-process http.Handler.
// It is what makes the cache usable as middleware in front of an
// application handler instead of a remote origin.
type HandlerFetcher struct {
	handler http.Handler
}

func NewHandlerFetcher(handler http.Handler) *HandlerFetcher {
	return &HandlerFetcher{handler: handler}
}

// Fetch runs the request through the wrapped handler and records the
// response. A handler cannot fail like a dropped connection, so errors only
// come from reading the recorded response.
func (f *HandlerFetcher) Fetch(r *http.Request) (*http.Response, error) {
	rw := tee.NewResponseSaver(nil)
	f.handler.ServeHTTP(rw, r)
	res, err := rw.AsResponse()
	if err != nil {
		return nil, err
	}
	res.Request = r
	return res, nil
}
