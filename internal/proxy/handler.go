// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/interceptor"
	"github.com/staranto/studiocache/internal/store"
)

// SourceHeader names the response header that reports where an intercepted
// response came from.
const SourceHeader = "X-Studio-Cache"

// Fetcher is the part of the interceptor the handler needs.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*interceptor.Response, bool, error)
}

// Handler serves requests through a Fetcher.
type Handler struct {
	origin *url.URL
	ic     Fetcher
	rp     *httputil.ReverseProxy
}

// NewHandler returns a Handler fronting origin. transport is used for
// passthrough requests; nil means http.DefaultTransport.
func NewHandler(origin *url.URL, ic Fetcher, transport http.RoundTripper) *Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.Out.Host = origin.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.WithError(err).Warnf("passthrough %s failed", r.URL)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return &Handler{origin: origin, ic: ic, rp: rp}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.URL = h.target(r.URL)
	out.Host = h.origin.Host

	resp, intercepted, err := h.ic.Fetch(r.Context(), out)
	if err != nil {
		log.WithError(err).Errorf("%s %s", r.Method, r.URL)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if !intercepted {
		h.rp.ServeHTTP(w, r)
		return
	}

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	// The freshness marker is bookkeeping; clients see the origin's headers.
	header.Del(store.CachedDateHeader)
	header.Set(SourceHeader, string(resp.Source))
	header.Set("Content-Length", strconv.Itoa(resp.Size()))
	header.Del("Transfer-Encoding")
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		log.WithError(err).Debugf("write %s", r.URL)
	}
}

// target is u resolved onto the origin.
func (h *Handler) target(u *url.URL) *url.URL {
	t := *h.origin
	t.Path = u.Path
	t.RawPath = u.RawPath
	t.RawQuery = u.RawQuery
	t.Fragment = ""
	return &t
}
