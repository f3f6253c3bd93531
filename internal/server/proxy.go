// Package server holds the two HTTP front-ends: the invocation proxy and
// the admin service.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rvmlabs/rvm/internal/engine"
	"github.com/rvmlabs/rvm/internal/logging"
	"github.com/rvmlabs/rvm/internal/registry"
	"github.com/rvmlabs/rvm/internal/worker"
)

// Invoker is the slice of the registry the proxy consumes.
type Invoker interface {
	Invoke(ctx context.Context, key string, req *http.Request) (*http.Response, error)
}

// Proxy routes invocation traffic: the first path segment picks the
// module, the rest (query preserved) is what the guest observes.
type Proxy struct {
	invoker Invoker
}

func NewProxy(invoker Invoker) *Proxy {
	return &Proxy{invoker: invoker}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL == nil || r.URL.Path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}

	key, forward := splitTarget(r.URL.Path, r.URL.RawQuery)

	outbound := r.Clone(r.Context())
	outbound.URL = forward
	outbound.RequestURI = ""

	log := logging.ForInvocation(key, uuid.New().String())
	log.Info("invoking module", "uri", forward.RequestURI())
	started := time.Now()

	resp, err := p.invoker.Invoke(r.Context(), key, outbound)
	if err != nil {
		status := statusFromError(err)
		log.Warn("invoke failed", "error", err, "status", status, "duration_ms", time.Since(started).Milliseconds())
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("copy response body", "error", err)
	}
	log.Info("invoked module", "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds(),
		"fuel_consumed", resp.Header.Get(worker.HeaderFuelConsumed))
}

// splitTarget splits "/<key>/<rest>?<query>" into the module key and the
// guest-observed URL. With no segment after the key the guest sees "/".
func splitTarget(path, rawQuery string) (string, *url.URL) {
	trimmed := strings.TrimPrefix(path, "/")

	key := trimmed
	rest := "/"
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		key = trimmed[:i]
		rest = trimmed[i:]
	}
	return key, &url.URL{Path: rest, RawQuery: rawQuery}
}

// statusFromError maps invocation error kinds onto HTTP statuses.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownKey), errors.Is(err, registry.ErrInvalidKey):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrStopped), errors.Is(err, engine.ErrNoResponse):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
