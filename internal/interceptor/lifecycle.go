// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/store"
)

// Install pre-populates the shell partition with the manifest. It is all or
// nothing: a network error or a non-2xx status for any document fails the
// install and nothing is stored. On success the interceptor is Installed and
// may be activated straight away.
func (ic *Interceptor) Install(ctx context.Context) error {
	ic.lifecycle.Lock()
	defer ic.lifecycle.Unlock()

	if ic.State() == Unregistered {
		return ErrUnregistered
	}

	keys := make([]string, 0, len(ic.cfg.Manifest))
	entries := make([]*store.Entry, 0, len(ic.cfg.Manifest))
	for _, ref := range ic.cfg.Manifest {
		u, err := ic.resolve(ref)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("install: failed to create request: %w", err)
		}
		e, err := ic.network(ctx, req)
		if err != nil {
			return fmt.Errorf("install: failed to fetch %s: %w", u, err)
		}
		if !e.Storable() {
			return fmt.Errorf("install: %s: %w %d", u, ErrBadStatus, e.Status)
		}
		keys = append(keys, store.Key(req))
		entries = append(entries, e)
	}

	part, err := ic.store.Open(ctx, ic.cfg.ShellCache)
	if err != nil {
		return fmt.Errorf("install: failed to open %s: %w", ic.cfg.ShellCache, err)
	}
	for i, key := range keys {
		if err := part.Put(ctx, key, entries[i]); err != nil {
			return fmt.Errorf("install: failed to cache %s: %w", key, err)
		}
	}

	log.Debugf("installed %d shell documents into %s", len(keys), ic.cfg.ShellCache)
	// Reinstalling refreshes the shell partition without leaving Active.
	if ic.State() == Uninstalled {
		ic.setState(Installed)
	}
	return nil
}

// Activate deletes stale partitions and starts intercepting. On a development
// host it unregisters instead, leaving the store untouched.
func (ic *Interceptor) Activate(ctx context.Context) error {
	ic.lifecycle.Lock()
	defer ic.lifecycle.Unlock()

	switch ic.State() {
	case Unregistered:
		return ErrUnregistered
	case Uninstalled:
		return ErrNotInstalled
	}

	if ic.cfg.IsDevHost(ic.cfg.Origin.Hostname()) {
		log.Infof("development host %s, unregistering", ic.cfg.Origin.Hostname())
		ic.setState(Unregistered)
		return nil
	}

	deleted, err := ic.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if len(deleted) > 0 {
		log.Infof("removed stale partitions %v", deleted)
	}

	ic.setState(Active)
	return nil
}

// Start installs and immediately activates, without waiting for any previous
// generation to finish.
func (ic *Interceptor) Start(ctx context.Context) error {
	if err := ic.Install(ctx); err != nil {
		return err
	}
	return ic.Activate(ctx)
}

// Unregister stops interception permanently.
func (ic *Interceptor) Unregister() {
	ic.lifecycle.Lock()
	defer ic.lifecycle.Unlock()
	ic.setState(Unregistered)
}

// Cleanup deletes every partition whose name is neither the shell nor the image
// tag and returns the names it deleted. It is the only way entries are ever
// removed.
func (ic *Interceptor) Cleanup(ctx context.Context) ([]string, error) {
	names, err := ic.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if ic.cfg.Current(name) {
			continue
		}
		existed, err := ic.store.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete partition %s: %w", name, err)
		}
		if existed {
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}

func (ic *Interceptor) resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("bad manifest entry %q: %w", ref, err)
	}
	return ic.cfg.Origin.ResolveReference(r), nil
}
