// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-process store.Store. Nothing survives the process.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/staranto/studiocache/internal/store"
)

// Store keeps partitions in maps, listing them in creation order.
type Store struct {
	mu    sync.RWMutex
	order []string
	parts map[string]*Partition
}

// New returns an empty Store.
func New() *Store {
	return &Store{parts: make(map[string]*Partition)}
}

// Open implements store.Store.
func (s *Store) Open(_ context.Context, name string) (store.Partition, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.parts[name]; ok {
		return p, nil
	}
	p := &Partition{name: name, entries: make(map[string]*store.Entry)}
	s.parts[name] = p
	s.order = append(s.order, name)
	return p, nil
}

// Keys implements store.Store.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parts[name]; !ok {
		return false, nil
	}
	delete(s.parts, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// Partition is a single named map of entries.
type Partition struct {
	name    string
	mu      sync.RWMutex
	order   []string
	entries map[string]*store.Entry
}

// Name implements store.Partition.
func (p *Partition) Name() string { return p.name }

// Match implements store.Partition. The returned entry is a copy.
func (p *Partition) Match(_ context.Context, key string) (*store.Entry, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[key]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// Put implements store.Partition.
func (p *Partition) Put(_ context.Context, key string, e *store.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[key]; !ok {
		p.order = append(p.order, key)
	}
	p.entries[key] = e.Clone()
	return nil
}

// Keys implements store.Partition.
func (p *Partition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.order), nil
}
