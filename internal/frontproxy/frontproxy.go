// Package frontproxy is the optional second listener described in
// §4.M: a local reverse proxy that forwards every request byte-for-byte
// to the backend worker-pool listener, so a caller that only knows the
// front port never needs to know the backend port changed. It streams
// both directions (request and response bodies) rather than buffering,
// and enforces a configurable max request body size.
package frontproxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Config controls the proxy's target and body limit.
type Config struct {
	BackendAddr  string
	MaxBodyBytes int64
}

// New builds an http.Handler that reverse-proxies to cfg.BackendAddr,
// rejecting any request body larger than cfg.MaxBodyBytes before it
// reaches the backend.
func New(cfg Config) (http.Handler, error) {
	target, err := url.Parse("http://" + cfg.BackendAddr)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.FlushInterval = -1 // stream immediately, required for SSE passthrough

	if cfg.MaxBodyBytes <= 0 {
		return proxy, nil
	}
	return limitBody(proxy, cfg.MaxBodyBytes), nil
}

// limitBody wraps h so the request body can never be read past limit
// bytes; http.MaxBytesReader makes the subsequent Read return an error
// once the limit is exceeded instead of silently truncating.
func limitBody(h http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		h.ServeHTTP(w, r)
	})
}
