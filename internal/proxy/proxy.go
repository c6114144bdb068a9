// Package proxy routes incoming HTTP traffic to backend instances by the
// request's Host header.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Router dispatches requests to the backend registered for their hostname.
// Unknown hosts get a 404.
type Router struct {
	backends map[string]*httputil.ReverseProxy
	log      *zerolog.Logger
}

// New builds a router from a host -> backend URL table.
func New(routes map[string]string, logger *zerolog.Logger) (*Router, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	backends := make(map[string]*httputil.ReverseProxy, len(routes))
	for host, target := range routes {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("proxy: parse backend url %q: %w", target, err)
		}
		rp := httputil.NewSingleHostReverseProxy(u)
		rp.Transport = transport
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error().Err(err).Str("host", r.Host).Str("path", r.URL.Path).Msg("upstream error")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":"upstream unavailable"}`)
		}
		backends[host] = rp
	}

	return &Router{backends: backends, log: logger}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	backend, ok := rt.backends[host]
	if !ok {
		rt.log.Warn().Str("host", host).Msg("unknown host")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown host"}`)
		return
	}

	rt.log.Debug().Str("host", host).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("proxying request")
	backend.ServeHTTP(w, r)
}
