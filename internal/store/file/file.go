// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package file is a store.Store on the local filesystem. Each partition is a
// directory beneath the base directory and each entry a YAML document named by
// the MD5 of its request key. A marker file claims the directory as a
// partition; directories without one are never listed or removed.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apex/log"

	"github.com/staranto/studiocache/internal/cacheutil"
	"github.com/staranto/studiocache/internal/store"
)

const (
	entrySuffix = ".yaml"
	markerFile  = ".partition"
)

// Store roots partitions at a base directory.
type Store struct {
	base string
	// mu serializes directory creation and removal against entry writes.
	mu sync.RWMutex
}

// New returns a Store rooted at base. The directory is created on first use.
func New(base string) *Store {
	return &Store{base: base}
}

// NewDefault returns a Store rooted at the resolved cache directory (see
// cacheutil.Dir).
func NewDefault() (*Store, error) {
	base, ok := cacheutil.Dir()
	if !ok {
		return nil, errors.New("no cache directory could be resolved")
	}
	return New(base), nil
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// Open implements store.Store.
func (s *Store) Open(_ context.Context, name string) (store.Partition, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, name)
	if err := claim(dir); err != nil {
		return nil, err
	}
	return &Partition{store: s, name: name, dir: dir}, nil
}

// claim creates dir and its marker file.
func claim(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create partition directory: %w", err)
	}
	marker := filepath.Join(dir, markerFile)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil { //nolint:mnd
		return fmt.Errorf("failed to mark partition directory: %w", err)
	}
	return nil
}

// claimed reports whether dir carries the partition marker.
func claimed(dir string) (bool, error) {
	info, err := os.Stat(filepath.Join(dir, markerFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat partition marker: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Keys implements store.Store. Names are returned in lexical order. Directories
// not created by Open are ignored.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := claimed(filepath.Join(s.base, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Delete implements store.Store. A directory without the partition marker is
// left alone and reported as absent.
func (s *Store) Delete(_ context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, name)
	ok, err := claimed(dir)
	if err != nil || !ok {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove partition %s: %w", name, err)
	}
	log.Debugf("removed partition directory %s", dir)
	return true, nil
}

// Partition is a directory of entry documents.
type Partition struct {
	store *Store
	name  string
	dir   string
}

// Name implements store.Partition.
func (p *Partition) Name() string { return p.name }

func (p *Partition) path(key string) string {
	return filepath.Join(p.dir, cacheutil.EncodeKey(key)+entrySuffix)
}

// Match implements store.Partition.
func (p *Partition) Match(_ context.Context, key string) (*store.Entry, bool, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	data, err := os.ReadFile(p.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	_, e, err := store.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Put implements store.Partition. The document is written to a temporary file
// and renamed so readers never observe a partial entry.
func (p *Partition) Put(_ context.Context, key string, e *store.Entry) error {
	data, err := store.Encode(key, e)
	if err != nil {
		return err
	}

	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	if err := claim(p.dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(p.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Keys implements store.Partition. Documents that fail to decode are skipped.
func (p *Partition) Keys(_ context.Context) ([]string, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read partition directory: %w", err)
	}

	var keys []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, de.Name()))
		if err != nil {
			log.WithError(err).Warnf("failed to read cache entry %s", de.Name())
			continue
		}
		key, _, err := store.Decode(data)
		if err != nil {
			log.WithError(err).Warnf("skipping unreadable cache entry %s", de.Name())
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
