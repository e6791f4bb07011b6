// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CachedDateHeader carries the freshness marker stamped onto image entries. The
// value is the caching time in milliseconds since the Unix epoch.
const CachedDateHeader = "sw-cached-date"

// ErrInvalidName is returned when a partition name cannot be used as a storage
// path component.
var ErrInvalidName = errors.New("invalid partition name")

// Store is a collection of named partitions. Implementations must be safe for
// concurrent use.
type Store interface {
	// Open returns the named partition, creating it if it does not exist.
	Open(ctx context.Context, name string) (Partition, error)
	// Keys returns the names of all existing partitions.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named partition and all of its entries. It reports
	// whether the partition existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Partition maps request keys to stored responses.
type Partition interface {
	Name() string
	// Match returns the entry stored under key. The bool is false on a miss.
	Match(ctx context.Context, key string) (*Entry, bool, error)
	// Put stores e under key, replacing any previous entry.
	Put(ctx context.Context, key string, e *Entry) error
	// Keys returns the request keys stored in the partition.
	Keys(ctx context.Context) ([]string, error)
}

// Entry is a stored HTTP response.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// Key returns the identity used to store a response to req.
func Key(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.URL.String()
}

// NewEntry reads resp into an Entry. The response body is consumed and closed.
func NewEntry(resp *http.Response) (*Entry, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &Entry{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := &Entry{Status: e.Status, Header: e.Header.Clone()}
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return c
}

// OK reports whether the status is in the 2xx range.
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status <= 299
}

// Storable reports whether the entry may be written to a partition: an ok
// status that carries the whole resource. A 206 body is only a byte range.
func (e *Entry) Storable() bool {
	return e.OK() && e.Status != http.StatusPartialContent
}

// Size is the body length in bytes.
func (e *Entry) Size() int {
	return len(e.Body)
}

// Stamp returns a copy of e carrying a freshness marker for t.
func (e *Entry) Stamp(t time.Time) *Entry {
	c := e.Clone()
	c.Header.Set(CachedDateHeader, strconv.FormatInt(t.UnixMilli(), 10))
	return c
}

// CachedAt returns the freshness marker. present is false when the entry has no
// marker. A marker that does not parse yields the zero time, which is older
// than any freshness window.
func (e *Entry) CachedAt() (t time.Time, present bool) {
	raw := e.Header.Get(CachedDateHeader)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, true
	}
	return time.UnixMilli(ms), true
}

// ValidateName rejects partition names that are empty or would escape a
// storage path.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// MatchAny looks key up in every partition of s, in the order returned by
// s.Keys, and returns the first hit.
func MatchAny(ctx context.Context, s Store, key string) (*Entry, bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list partitions: %w", err)
	}
	for _, name := range names {
		p, err := s.Open(ctx, name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open partition %s: %w", name, err)
		}
		e, ok, err := p.Match(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}
