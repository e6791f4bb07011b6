// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// no-cloc

package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/studiocache/internal/store"
	"github.com/staranto/studiocache/internal/store/memory"
)

const testOrigin = "https://studio.example"

var errOffline = errors.New("offline")

type route struct {
	status int
	body   string
	err    error
}

// fakeNet answers by path, counts every request it sees and keeps the headers
// of the last one per path.
type fakeNet struct {
	mu      sync.Mutex
	routes  map[string]route
	calls   map[string]int
	headers map[string]http.Header
}

func newFakeNet() *fakeNet {
	n := &fakeNet{routes: map[string]route{}, calls: map[string]int{}, headers: map[string]http.Header{}}
	for _, p := range DefaultManifest {
		n.routes[p] = route{status: http.StatusOK, body: "doc " + p}
	}
	return n
}

func (n *fakeNet) set(path string, r route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[path] = r
}

func (n *fakeNet) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNet) header(path string) http.Header {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.headers[path]
}

func (n *fakeNet) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sum := 0
	for _, c := range n.calls {
		sum += c
	}
	return sum
}

func (n *fakeNet) Do(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL.Path]++
	n.headers[req.URL.Path] = req.Header.Clone()
	r, ok := n.routes[req.URL.Path]
	if !ok {
		r = route{status: http.StatusNotFound, body: "not found"}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{"image/webp"}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTest(t *testing.T, origin string) (*Interceptor, *memory.Store, *fakeNet, *fakeClock) {
	t.Helper()
	u, err := url.Parse(origin)
	require.NoError(t, err)
	st := memory.New()
	n := newFakeNet()
	clock := &fakeClock{t: t0}
	ic, err := New(DefaultConfig(u), st, n, WithClock(clock.Now))
	require.NoError(t, err)
	return ic, st, n, clock
}

func newActive(t *testing.T) (*Interceptor, *memory.Store, *fakeNet, *fakeClock) {
	t.Helper()
	ic, st, n, clock := newTest(t, testOrigin)
	require.NoError(t, ic.Start(context.Background()))
	require.Equal(t, Active, ic.State())
	return ic, st, n, clock
}

func get(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testOrigin+path, nil)
	require.NoError(t, err)
	return req
}

func entryFor(t *testing.T, st store.Store, partition, path string) (*store.Entry, bool) {
	t.Helper()
	part, err := st.Open(context.Background(), partition)
	require.NoError(t, err)
	e, ok, err := part.Match(context.Background(), "GET "+testOrigin+path)
	require.NoError(t, err)
	return e, ok
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig(&url.URL{Scheme: "https", Host: "studio.example"})

	tests := []struct {
		url  string
		want Policy
	}{
		{"https://studio.example/sw.js", PolicyPassthrough},
		{"https://studio.example/vite.svg", PolicyPassthrough},
		{"https://studio.example/src/main.ts", PolicyPassthrough},
		{"https://studio.example/@vite/client", PolicyPassthrough},
		{"https://studio.example/@id/react", PolicyPassthrough},
		{"https://studio.example/node_modules/.vite/deps/react.js", PolicyPassthrough},
		{"https://studio.example/assets/index-abc.css", PolicyPassthrough},
		{"https://studio.example/studio-data.js", PolicyPassthrough},
		{"https://studio.example/lib/worker.mjs", PolicyPassthrough},
		{"http://localhost:5174/studio/blessings.webp", PolicyPassthrough},
		{"http://127.0.0.1/studio.html", PolicyPassthrough},
		{"https://studio.example/studio/blessings.webp", PolicyImage},
		{"https://studio.example/studio/a.png", PolicyImage},
		{"https://studio.example/studio/a.jpg", PolicyImage},
		{"https://studio.example/studio/nested/a.jpeg", PolicyImage},
		{"https://studio.example/studio/a.PNG", PolicyDefault},
		{"https://studio.example/studio/a.gif", PolicyDefault},
		{"https://studio.example/gallery/a.png", PolicyDefault},
		{"https://studio.example/studio.html", PolicyDefault},
		{"https://studio.example/", PolicyDefault},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Classify(u))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	u, _ := url.Parse(testOrigin)

	cfg := DefaultConfig(u)
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig(nil)
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig(u)
	cfg.ImageCache = cfg.ShellCache
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig(u)
	cfg.ShellCache = "a/b"
	assert.ErrorIs(t, cfg.Validate(), store.ErrInvalidName)

	cfg = DefaultConfig(u)
	cfg.MaxAge = 0
	assert.Error(t, cfg.Validate())
}

func TestInstall(t *testing.T) {
	ic, st, n, _ := newTest(t, testOrigin)

	require.NoError(t, ic.Install(context.Background()))
	assert.Equal(t, Installed, ic.State())

	for _, p := range DefaultManifest {
		assert.Equal(t, 1, n.count(p), p)
		e, ok := entryFor(t, st, DefaultShellCache, p)
		require.True(t, ok, p)
		assert.Equal(t, "doc "+p, string(e.Body))
		_, present := e.CachedAt()
		assert.False(t, present, "shell entries carry no marker")
	}
}

func TestInstallAllOrNothing(t *testing.T) {
	tests := []struct {
		name string
		r    route
		is   error
	}{
		{"bad status", route{status: http.StatusInternalServerError}, ErrBadStatus},
		{"network error", route{err: errOffline}, errOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic, st, n, _ := newTest(t, testOrigin)
			n.set("/index.html", tt.r)

			err := ic.Install(context.Background())
			require.ErrorIs(t, err, tt.is)
			assert.Equal(t, Uninstalled, ic.State())

			names, err := st.Keys(context.Background())
			require.NoError(t, err)
			assert.Empty(t, names, "nothing may be stored")

			assert.ErrorIs(t, ic.Activate(context.Background()), ErrNotInstalled)
		})
	}
}

func TestReinstallKeepsActive(t *testing.T) {
	ic, _, n, _ := newActive(t)
	ctx := context.Background()

	require.NoError(t, ic.Install(ctx))
	assert.Equal(t, Active, ic.State())
	assert.Equal(t, 2, n.count("/studio.html"))

	_, intercepted, err := ic.Fetch(ctx, get(t, "/studio.html"))
	require.NoError(t, err)
	assert.True(t, intercepted)
}

func TestActivateRequiresInstall(t *testing.T) {
	ic, _, _, _ := newTest(t, testOrigin)
	assert.ErrorIs(t, ic.Activate(context.Background()), ErrNotInstalled)
	assert.Equal(t, Uninstalled, ic.State())
}

func TestActivateCleansStalePartitions(t *testing.T) {
	ic, st, _, _ := newTest(t, testOrigin)
	ctx := context.Background()

	for _, name := range []string{"studio-cache-v0", DefaultImageCache, "studio-images-v0", "other"} {
		_, err := st.Open(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, ic.Start(ctx))

	names, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{DefaultShellCache, DefaultImageCache}, names)
}

func TestCleanup(t *testing.T) {
	ic, st, _, _ := newTest(t, testOrigin)
	ctx := context.Background()

	for _, name := range []string{DefaultShellCache, "old-a", "old-b"} {
		_, err := st.Open(ctx, name)
		require.NoError(t, err)
	}

	deleted, err := ic.Cleanup(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old-a", "old-b"}, deleted)

	deleted, err = ic.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestDevHostUnregisters(t *testing.T) {
	ic, st, n, _ := newTest(t, "http://localhost:5174")
	ctx := context.Background()

	_, err := st.Open(ctx, "studio-cache-v0")
	require.NoError(t, err)

	require.NoError(t, ic.Start(ctx))
	assert.Equal(t, Unregistered, ic.State())

	names, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "studio-cache-v0", "unregistering never deletes")

	before := n.total()
	req, err := http.NewRequest(http.MethodGet, "http://localhost:5174/studio/a.webp", nil)
	require.NoError(t, err)
	resp, intercepted, err := ic.Fetch(ctx, req)
	require.NoError(t, err)
	assert.False(t, intercepted)
	assert.Nil(t, resp)
	assert.Equal(t, before, n.total())

	assert.ErrorIs(t, ic.Install(ctx), ErrUnregistered)
	assert.ErrorIs(t, ic.Activate(ctx), ErrUnregistered)
}

func TestUnregister(t *testing.T) {
	ic, _, _, _ := newActive(t)
	ic.Unregister()
	assert.Equal(t, Unregistered, ic.State())

	_, intercepted, err := ic.Fetch(context.Background(), get(t, "/studio.html"))
	require.NoError(t, err)
	assert.False(t, intercepted)
}

func TestFetchNotActive(t *testing.T) {
	ic, st, n, _ := newTest(t, testOrigin)

	resp, intercepted, err := ic.Fetch(context.Background(), get(t, "/studio/a.webp"))
	require.NoError(t, err)
	assert.False(t, intercepted)
	assert.Nil(t, resp)
	assert.Zero(t, n.total())

	names, err := st.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFetchPassthrough(t *testing.T) {
	ic, st, n, _ := newActive(t)
	ctx := context.Background()
	before := n.total()

	for _, p := range []string{"/src/main.ts", "/studio-data.js", "/sw.js", "/@vite/client", "/assets/x.css"} {
		resp, intercepted, err := ic.Fetch(ctx, get(t, p))
		require.NoError(t, err, p)
		assert.False(t, intercepted, p)
		assert.Nil(t, resp, p)
	}
	assert.Equal(t, before, n.total(), "passthrough never goes to the network itself")

	part, err := st.Open(ctx, DefaultShellCache)
	require.NoError(t, err)
	keys, err := part.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(DefaultManifest), "passthrough never touches the store")

	images, err := st.Open(ctx, DefaultImageCache)
	require.NoError(t, err)
	keys, err = images.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchImageFreshness(t *testing.T) {
	ic, st, n, clock := newActive(t)
	ctx := context.Background()
	const path = "/studio/blessings.webp"
	n.set(path, route{status: http.StatusOK, body: "B"})

	resp, intercepted, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	require.True(t, intercepted)
	assert.Equal(t, SourceNetwork, resp.Source)
	assert.Equal(t, PolicyImage, resp.Policy)
	assert.Equal(t, "B", string(resp.Body))
	assert.Empty(t, resp.Header.Get(store.CachedDateHeader), "the returned response is not stamped")
	assert.Equal(t, 1, n.count(path))

	e, ok := entryFor(t, st, DefaultImageCache, path)
	require.True(t, ok)
	at, present := e.CachedAt()
	require.True(t, present)
	assert.Equal(t, t0.UnixMilli(), at.UnixMilli())

	clock.Advance(24 * time.Hour)
	resp, _, err = ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	assert.Equal(t, "B", string(resp.Body))
	assert.Equal(t, 1, n.count(path), "fresh entries never hit the network")

	n.set(path, route{status: http.StatusOK, body: "B2"})
	clock.Advance(7 * 24 * time.Hour)
	resp, _, err = ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Source)
	assert.Equal(t, "B2", string(resp.Body))
	assert.Equal(t, 2, n.count(path))

	e, ok = entryFor(t, st, DefaultImageCache, path)
	require.True(t, ok)
	assert.Equal(t, "B2", string(e.Body))
	at, _ = e.CachedAt()
	assert.Equal(t, clock.Now().UnixMilli(), at.UnixMilli())
}

func TestFetchImageWindowBoundary(t *testing.T) {
	ic, _, n, clock := newActive(t)
	ctx := context.Background()
	const path = "/studio/edge.png"
	n.set(path, route{status: http.StatusOK, body: "E"})

	_, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)

	clock.Advance(DefaultMaxAge - time.Millisecond)
	resp, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)

	clock.Advance(time.Millisecond)
	resp, _, err = ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Source, "an entry exactly one window old is expired")
}

func TestFetchImageWithoutMarkerIsAlwaysFresh(t *testing.T) {
	ic, st, n, clock := newActive(t)
	ctx := context.Background()
	const path = "/studio/old.jpg"

	part, err := st.Open(ctx, DefaultImageCache)
	require.NoError(t, err)
	require.NoError(t, part.Put(ctx, "GET "+testOrigin+path, &store.Entry{
		Status: http.StatusOK,
		Header: http.Header{},
		Body:   []byte("legacy"),
	}))

	clock.Advance(365 * 24 * time.Hour)
	resp, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	assert.Equal(t, "legacy", string(resp.Body))
	assert.Zero(t, n.count(path))
}

func TestFetchImageUnparseableMarkerIsExpired(t *testing.T) {
	ic, st, n, _ := newActive(t)
	ctx := context.Background()
	const path = "/studio/odd.png"
	n.set(path, route{status: http.StatusOK, body: "new"})

	part, err := st.Open(ctx, DefaultImageCache)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(store.CachedDateHeader, "yesterday")
	require.NoError(t, part.Put(ctx, "GET "+testOrigin+path, &store.Entry{Status: http.StatusOK, Header: h, Body: []byte("old")}))

	resp, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Source)
	assert.Equal(t, 1, n.count(path))
}

func TestFetchImageOffline(t *testing.T) {
	t.Run("placeholder", func(t *testing.T) {
		ic, st, n, _ := newActive(t)
		const path = "/studio/missing.webp"
		n.set(path, route{err: errOffline})

		resp, intercepted, err := ic.Fetch(context.Background(), get(t, path))
		require.NoError(t, err)
		require.True(t, intercepted)
		assert.Equal(t, SourcePlaceholder, resp.Source)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Equal(t, placeholderBody, string(resp.Body))
		assert.NotEmpty(t, resp.Body)
		assert.Equal(t, "text/plain;charset=UTF-8", resp.Header.Get("Content-Type"))

		_, ok := entryFor(t, st, DefaultImageCache, path)
		assert.False(t, ok, "placeholders are not cached")
	})

	t.Run("stale", func(t *testing.T) {
		ic, _, n, clock := newActive(t)
		const path = "/studio/blessings.webp"
		n.set(path, route{status: http.StatusOK, body: "B"})

		_, _, err := ic.Fetch(context.Background(), get(t, path))
		require.NoError(t, err)

		clock.Advance(30 * 24 * time.Hour)
		n.set(path, route{err: errOffline})

		resp, _, err := ic.Fetch(context.Background(), get(t, path))
		require.NoError(t, err)
		assert.Equal(t, SourceStale, resp.Source)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "B", string(resp.Body))
	})
}

func TestFetchImageNotStored(t *testing.T) {
	tests := []struct {
		name string
		r    route
	}{
		{"server error", route{status: http.StatusInternalServerError, body: "boom"}},
		{"partial content", route{status: http.StatusPartialContent, body: "RIFF"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic, st, n, _ := newActive(t)
			ctx := context.Background()
			const path = "/studio/broken.png"
			n.set(path, tt.r)

			for i := 1; i <= 2; i++ {
				resp, _, err := ic.Fetch(ctx, get(t, path))
				require.NoError(t, err)
				assert.Equal(t, SourceNetwork, resp.Source)
				assert.Equal(t, tt.r.status, resp.Status)
				assert.Equal(t, i, n.count(path))
			}

			_, ok := entryFor(t, st, DefaultImageCache, path)
			assert.False(t, ok, "%d responses are never cached", tt.r.status)
		})
	}
}

func TestFetchDefault(t *testing.T) {
	ic, st, n, _ := newActive(t)
	ctx := context.Background()
	const path = "/about.html"
	n.set(path, route{status: http.StatusOK, body: "about"})

	resp, intercepted, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	require.True(t, intercepted)
	assert.Equal(t, PolicyDefault, resp.Policy)
	assert.Equal(t, SourceNetwork, resp.Source)
	assert.Equal(t, 1, n.count(path))

	e, ok := entryFor(t, st, DefaultShellCache, path)
	require.True(t, ok)
	assert.Equal(t, "about", string(e.Body))

	resp, _, err = ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	assert.Equal(t, "about", string(resp.Body))
	assert.Equal(t, 1, n.count(path), "second fetch is served from cache")
}

func TestFetchDefaultServesManifest(t *testing.T) {
	ic, _, n, _ := newActive(t)

	resp, _, err := ic.Fetch(context.Background(), get(t, "/studio.html"))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	assert.Equal(t, "doc /studio.html", string(resp.Body))
	assert.Equal(t, 1, n.count("/studio.html"), "only the install fetch")
}

func TestFetchDefaultMatchesAnyPartition(t *testing.T) {
	ic, _, n, _ := newActive(t)
	ctx := context.Background()
	const path = "/studio/cover.webp"
	n.set(path, route{status: http.StatusOK, body: "C"})

	_, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)

	// With image handling off the entry is still found in the image partition.
	ic.cfg.ImageExts = nil
	resp, _, err := ic.Fetch(ctx, get(t, path))
	require.NoError(t, err)
	assert.Equal(t, PolicyDefault, resp.Policy)
	assert.Equal(t, SourceCache, resp.Source)
	assert.Equal(t, 1, n.count(path))
}

func TestFetchDefaultNotStored(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		r      route
	}{
		{"not ok", http.MethodGet, "/gone.html", route{status: http.StatusNotFound, body: "nope"}},
		{"post", http.MethodPost, "/contact", route{status: http.StatusOK, body: "thanks"}},
		{"at prefix", http.MethodGet, "/@fs/tmp/x.css", route{status: http.StatusOK, body: "css"}},
		{"partial content", http.MethodGet, "/reel.html", route{status: http.StatusPartialContent, body: "<ht"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic, st, n, _ := newActive(t)
			ctx := context.Background()
			n.set(tt.path, tt.r)

			req, err := http.NewRequest(tt.method, testOrigin+tt.path, nil)
			require.NoError(t, err)

			for i := 1; i <= 2; i++ {
				resp, intercepted, err := ic.Fetch(ctx, req)
				require.NoError(t, err)
				require.True(t, intercepted)
				assert.Equal(t, SourceNetwork, resp.Source)
				assert.Equal(t, tt.r.status, resp.Status)
				assert.Equal(t, i, n.count(tt.path))
			}

			part, err := st.Open(ctx, DefaultShellCache)
			require.NoError(t, err)
			keys, err := part.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, len(DefaultManifest))
		})
	}
}

func TestNetworkDropsAcceptEncoding(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"image", "/studio/cover.webp"},
		{"default", "/about.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic, st, n, _ := newActive(t)
			ctx := context.Background()
			n.set(tt.path, route{status: http.StatusOK, body: "plain"})

			req := get(t, tt.path)
			req.Header.Set("Accept-Encoding", "gzip, br")
			req.Header.Set("Accept", "*/*")

			resp, _, err := ic.Fetch(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, SourceNetwork, resp.Source)

			sent := n.header(tt.path)
			assert.Empty(t, sent.Get("Accept-Encoding"))
			assert.Equal(t, "*/*", sent.Get("Accept"))
			assert.Equal(t, "gzip, br", req.Header.Get("Accept-Encoding"), "caller's request is untouched")

			e, ok := entryFor(t, st, DefaultShellCache, tt.path)
			if !ok {
				e, ok = entryFor(t, st, DefaultImageCache, tt.path)
			}
			require.True(t, ok)
			assert.Equal(t, "plain", string(e.Body))
		})
	}
}

func TestFetchDefaultNetworkError(t *testing.T) {
	ic, _, n, _ := newActive(t)
	n.set("/offline.html", route{err: errOffline})

	resp, intercepted, err := ic.Fetch(context.Background(), get(t, "/offline.html"))
	assert.True(t, intercepted)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errOffline)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "unregistered", Unregistered.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "image", PolicyImage.String())
}
