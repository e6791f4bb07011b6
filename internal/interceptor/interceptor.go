// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/store"
)

var (
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("interceptor is not installed")
	// ErrUnregistered is returned by lifecycle calls after the interceptor
	// unregistered itself on a development host.
	ErrUnregistered = errors.New("interceptor is unregistered")
	// ErrBadStatus is returned when a manifest document is not fetched with a
	// 2xx status.
	ErrBadStatus = errors.New("unexpected status")
)

// State is the lifecycle phase.
type State int

const (
	Uninstalled State = iota
	Installed
	Active
	// Unregistered is terminal. It is entered on development hosts.
	Unregistered
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	case Active:
		return "active"
	case Unregistered:
		return "unregistered"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Policy is the handling chosen for a request.
type Policy int

const (
	PolicyPassthrough Policy = iota
	PolicyImage
	PolicyDefault
)

func (p Policy) String() string {
	switch p {
	case PolicyPassthrough:
		return "passthrough"
	case PolicyImage:
		return "image"
	case PolicyDefault:
		return "default"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Source says where an intercepted response came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceStale       Source = "stale"
	SourcePlaceholder Source = "placeholder"
)

// Response is an intercepted response.
type Response struct {
	*store.Entry
	Policy Policy
	Source Source
}

// Doer performs network requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customizes an Interceptor.
type Option func(*Interceptor)

// WithClock replaces time.Now, for freshness checks and stamping.
func WithClock(now func() time.Time) Option {
	return func(ic *Interceptor) { ic.now = now }
}

// Interceptor applies the caching policy. It is safe for concurrent use;
// lifecycle transitions are serialized.
type Interceptor struct {
	cfg   Config
	store store.Store
	net   Doer
	now   func() time.Time

	lifecycle sync.Mutex

	mu    sync.RWMutex
	state State
}

// New returns an Uninstalled Interceptor.
func New(cfg Config, st store.Store, net Doer, opts ...Option) (*Interceptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid interceptor config: %w", err)
	}
	if st == nil {
		return nil, errors.New("a store is required")
	}
	if net == nil {
		net = http.DefaultClient
	}
	ic := &Interceptor{
		cfg:   cfg,
		store: st,
		net:   net,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(ic)
	}
	return ic, nil
}

// Config returns the configuration the interceptor was built with.
func (ic *Interceptor) Config() Config { return ic.cfg }

// State returns the current lifecycle phase.
func (ic *Interceptor) State() State {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.state
}

func (ic *Interceptor) setState(s State) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.state != s {
		log.Debugf("interceptor %s -> %s", ic.state, s)
	}
	ic.state = s
}

// network performs req and buffers the response. Accept-Encoding is dropped so
// the transport negotiates and decodes compression itself and entries hold
// identity bodies.
func (ic *Interceptor) network(ctx context.Context, req *http.Request) (*store.Entry, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Header.Del("Accept-Encoding")
	resp, err := ic.net.Do(out)
	if err != nil {
		return nil, err
	}
	return store.NewEntry(resp)
}
