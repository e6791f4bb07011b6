// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/store"
)

// placeholderBody is served for an image that is neither cached nor reachable.
const placeholderBody = "Image not available"

// Fetch handles one outgoing request. intercepted is false when the request
// should go to the network untouched: the interceptor is not active, or the
// request matched a passthrough rule. req.URL must be absolute.
func (ic *Interceptor) Fetch(ctx context.Context, req *http.Request) (resp *Response, intercepted bool, err error) {
	if ic.State() != Active {
		return nil, false, nil
	}

	policy := ic.cfg.Classify(req.URL)
	switch policy {
	case PolicyPassthrough:
		log.Debugf("passthrough %s", req.URL)
		return nil, false, nil
	case PolicyImage:
		resp, err = ic.fetchImage(ctx, req)
	default:
		resp, err = ic.fetchDefault(ctx, req)
	}
	if err != nil {
		return nil, true, err
	}
	log.Debugf("%s %s: %s %d (%s)", req.Method, req.URL, resp.Source, resp.Status, policy)
	return resp, true, nil
}

// fetchImage serves from the image partition while the entry is fresh, and
// otherwise refreshes from the network, falling back to whatever copy exists.
//
// An entry without a freshness marker is served forever; only the activation
// cleanup of a retired partition replaces it.
func (ic *Interceptor) fetchImage(ctx context.Context, req *http.Request) (*Response, error) {
	part, err := ic.store.Open(ctx, ic.cfg.ImageCache)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ic.cfg.ImageCache, err)
	}

	key := store.Key(req)
	cached, hit, err := part.Match(ctx, key)
	if err != nil {
		return nil, err
	}

	if hit {
		at, present := cached.CachedAt()
		if !present || ic.now().Sub(at) < ic.cfg.MaxAge {
			return &Response{Entry: cached, Policy: PolicyImage, Source: SourceCache}, nil
		}
	}

	fresh, err := ic.network(ctx, req)
	if err != nil {
		log.WithError(err).Debugf("network failed for %s", req.URL)
		if hit {
			return &Response{Entry: cached, Policy: PolicyImage, Source: SourceStale}, nil
		}
		return &Response{Entry: placeholder(), Policy: PolicyImage, Source: SourcePlaceholder}, nil
	}

	if fresh.Storable() {
		if err := part.Put(ctx, key, fresh.Stamp(ic.now())); err != nil {
			log.WithError(err).Warnf("failed to cache %s", key)
		}
	}
	return &Response{Entry: fresh, Policy: PolicyImage, Source: SourceNetwork}, nil
}

// fetchDefault serves any cached copy, else the network response, storing
// complete ok GET responses in the shell partition without a freshness marker.
func (ic *Interceptor) fetchDefault(ctx context.Context, req *http.Request) (*Response, error) {
	key := store.Key(req)
	cached, hit, err := store.MatchAny(ctx, ic.store, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return &Response{Entry: cached, Policy: PolicyDefault, Source: SourceCache}, nil
	}

	fresh, err := ic.network(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}

	if fresh.Storable() && isGet(req) && ic.cfg.storable(req.URL) {
		part, err := ic.store.Open(ctx, ic.cfg.ShellCache)
		if err == nil {
			err = part.Put(ctx, key, fresh.Clone())
		}
		if err != nil {
			log.WithError(err).Warnf("failed to cache %s", key)
		}
	}
	return &Response{Entry: fresh, Policy: PolicyDefault, Source: SourceNetwork}, nil
}

func isGet(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

func placeholder() *store.Entry {
	h := http.Header{}
	h.Set("Content-Type", "text/plain;charset=UTF-8")
	return &store.Entry{
		Status: http.StatusNotFound,
		Header: h,
		Body:   []byte(placeholderBody),
	}
}
