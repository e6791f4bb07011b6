// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/staranto/studiocache/internal/store"
	"github.com/staranto/studiocache/internal/store/file"
)

const studioData = `// gallery
const studioData = [
  { src: "studio/a.webp", title: "Blessings", date: "2025" },
  { src: "studio/b.png", title: "Harbor", date: "2024" },
];
`

type site struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		switch r.URL.Path {
		case "/studio-data.js":
			w.Header().Set("Content-Type", "text/javascript")
			_, _ = io.WriteString(w, studioData)
		case "/studio/a.webp", "/studio/b.png":
			w.Header().Set("Content-Type", "image/webp")
			_, _ = io.WriteString(w, "image "+r.URL.Path)
		case "/studio/missing.png":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "doc "+r.URL.Path)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// setup writes a config file that fronts s with a file store under a temp
// dir. The loopback origin is treated as a production host. It returns the
// cache dir.
func setup(t *testing.T, s *site) string {
	t.Helper()
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")

	origin := ""
	if s != nil {
		origin = "origin: " + s.URL
	}
	cfg := fmt.Sprintf(`%s
store: file
cache-dir: %s
interceptor:
  dev-hosts: []
  passthrough:
    paths: [/sw.js, /vite.svg]
    prefixes: [/src/, /@vite/, /@id/, /node_modules/, /assets/]
    contains: [.js, .mjs]
`, origin, cacheDir)

	path := filepath.Join(dir, "studiocache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	t.Setenv("STUDIOCACHE_CFG", path)
	return cacheDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	argv := append([]string{"studiocache"}, args...)

	app, err := InitApp(context.Background(), argv)
	require.NoError(t, err)

	var buf bytes.Buffer
	app.Writer = &buf
	app.ErrWriter = io.Discard

	err = app.Run(context.Background(), argv)
	return buf.String(), err
}

func rowWhere(out, key, value string) gjson.Result {
	return gjson.Get(out, fmt.Sprintf(`#(%s==%q)`, key, value))
}

func TestFetch(t *testing.T) {
	s := newSite(t)
	setup(t, s)

	out, err := run(t, "fetch", "-o", "json", "/studio/a.webp", "/studio.html", "/sw.js", "/about")
	require.NoError(t, err)

	rows := gjson.Parse(out).Array()
	require.Len(t, rows, 4)

	assert.Equal(t, "image", rows[0].Get("policy").String())
	assert.Equal(t, "network", rows[0].Get("source").String())
	assert.Equal(t, int64(200), rows[0].Get("status").Int())

	assert.Equal(t, "default", rows[1].Get("policy").String())
	assert.Equal(t, "cache", rows[1].Get("source").String())

	assert.Equal(t, "passthrough", rows[2].Get("policy").String())
	assert.Equal(t, "passthrough", rows[2].Get("source").String())

	assert.Equal(t, "default", rows[3].Get("policy").String())
	assert.Equal(t, "network", rows[3].Get("source").String())

	// The file store persists across runs.
	out, err = run(t, "fetch", "-o", "json", "/studio/a.webp", "/about")
	require.NoError(t, err)
	assert.Equal(t, "cache", gjson.Get(out, "0.source").String())
	assert.Equal(t, "cache", gjson.Get(out, "1.source").String())

	assert.Equal(t, 1, s.count("/studio/a.webp"))
	assert.Equal(t, 1, s.count("/about"))
	assert.Equal(t, 2, s.count("/studio.html"), "install runs on every start")
}

func TestFetch_Errors(t *testing.T) {
	t.Run("no paths", func(t *testing.T) {
		setup(t, newSite(t))
		_, err := run(t, "fetch")
		assert.ErrorContains(t, err, "at least one PATH")
	})

	t.Run("no origin", func(t *testing.T) {
		setup(t, nil)
		_, err := run(t, "fetch", "/studio.html")
		assert.ErrorIs(t, err, ErrNoOrigin)
	})

	t.Run("install fails", func(t *testing.T) {
		s := newSite(t)
		setup(t, s)
		s.Close()
		_, err := run(t, "fetch", "/studio.html")
		assert.Error(t, err)
	})

	t.Run("bad output", func(t *testing.T) {
		setup(t, newSite(t))
		_, err := run(t, "fetch", "-o", "csv", "/studio.html")
		assert.Error(t, err)
	})
}

func TestFetch_Schema(t *testing.T) {
	setup(t, newSite(t))
	out, err := run(t, "fetch", "--schema")
	require.NoError(t, err)
	for _, name := range []string{"path", "policy", "source", "status", "bytes"} {
		assert.Contains(t, out, name)
	}
}

func TestWarm(t *testing.T) {
	s := newSite(t)
	setup(t, s)

	out, err := run(t, "warm", "-o", "json", "-a", "path", "--parallel", "2")
	require.NoError(t, err)
	require.Len(t, gjson.Parse(out).Array(), 2)
	assert.Equal(t, "network", rowWhere(out, "title", "Blessings").Get("source").String())
	assert.Equal(t, "network", rowWhere(out, "title", "Harbor").Get("source").String())

	out, err = run(t, "warm", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "cache", rowWhere(out, "title", "Blessings").Get("source").String())
	assert.Equal(t, "cache", rowWhere(out, "title", "Harbor").Get("source").String())
	assert.Equal(t, 1, s.count("/studio/b.png"))

	out, err = run(t, "partitions", "-o", "json")
	require.NoError(t, err)
	images := rowWhere(out, "name", "studio-images-v1")
	assert.Equal(t, int64(2), images.Get("entries").Int())
	assert.True(t, images.Get("current").Bool())
	shell := rowWhere(out, "name", "studio-cache-v1")
	assert.Equal(t, int64(3), shell.Get("entries").Int())
}

func TestWarm_Failures(t *testing.T) {
	s := newSite(t)
	setup(t, s)

	out, err := run(t, "warm", "-o", "json", "--gallery", "testdata/gallery.json")
	assert.ErrorContains(t, err, "1 of 2 images failed")

	// Rows are still printed.
	assert.Equal(t, int64(200), rowWhere(out, "title", "Blessings").Get("status").Int())
	assert.Equal(t, int64(404), rowWhere(out, "title", "Lost").Get("status").Int())
}

func TestGallery(t *testing.T) {
	setup(t, newSite(t))

	t.Run("origin", func(t *testing.T) {
		out, err := run(t, "gallery", "-o", "json", "-s", "title")
		require.NoError(t, err)
		assert.Equal(t, []string{"Blessings", "Harbor"}, titles(out))
	})

	t.Run("file", func(t *testing.T) {
		out, err := run(t, "gallery", "-o", "json", "-g", "testdata/gallery.json", "-s", "-date")
		require.NoError(t, err)
		assert.Equal(t, []string{"Blessings", "Lost"}, titles(out))
	})

	t.Run("filter", func(t *testing.T) {
		out, err := run(t, "gallery", "-o", "json", "-g", "testdata/gallery.json", "-f", "title=Lost")
		require.NoError(t, err)
		assert.Equal(t, []string{"Lost"}, titles(out))
	})
}

func titles(out string) []string {
	var ts []string
	for _, r := range gjson.Get(out, "#.title").Array() {
		ts = append(ts, r.String())
	}
	return ts
}

func TestEntries(t *testing.T) {
	s := newSite(t)
	setup(t, s)

	_, err := run(t, "fetch", "/studio/a.webp")
	require.NoError(t, err)

	out, err := run(t, "entries", "-o", "json", "-a", "method,type", "studio-images-v1")
	require.NoError(t, err)
	rows := gjson.Parse(out).Array()
	require.Len(t, rows, 1)
	assert.Equal(t, s.URL+"/studio/a.webp", rows[0].Get("url").String())
	assert.Equal(t, "GET", rows[0].Get("method").String())
	assert.Equal(t, "image/webp", rows[0].Get("type").String())
	assert.True(t, rows[0].Get("fresh").Bool())

	out, err = run(t, "entries", "-o", "json", "studio-cache-v1")
	require.NoError(t, err)
	assert.Len(t, gjson.Parse(out).Array(), 3)

	_, err = run(t, "entries", "studio-nope")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, "entries")
	assert.ErrorContains(t, err, "PARTITION")
}

func TestEntryRow(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return t0 }
	t.Cleanup(func() { now = orig })

	e := &store.Entry{Status: 200, Header: http.Header{}, Body: []byte("abc")}

	row := entryRow("GET https://studio.example/studio.html", e, 7*24*time.Hour)
	assert.Equal(t, "GET", row.Method)
	assert.Equal(t, "https://studio.example/studio.html", row.URL)
	assert.Equal(t, 3, row.Bytes)
	assert.Empty(t, row.Cached)
	assert.True(t, row.Fresh, "unmarked entries never expire")

	row = entryRow("GET https://studio.example/studio/a.webp", e.Stamp(t0.Add(-time.Hour)), 7*24*time.Hour)
	assert.Equal(t, "2025-03-01T11:00:00Z", row.Cached)
	assert.True(t, row.Fresh)

	row = entryRow("GET https://studio.example/studio/a.webp", e.Stamp(t0.Add(-7*24*time.Hour)), 7*24*time.Hour)
	assert.False(t, row.Fresh)

	bad := e.Clone()
	bad.Header.Set(store.CachedDateHeader, "yesterday")
	row = entryRow("GET https://studio.example/studio/a.webp", bad, 7*24*time.Hour)
	assert.Empty(t, row.Cached)
	assert.False(t, row.Fresh)
}

func TestCleanup(t *testing.T) {
	s := newSite(t)
	cacheDir := setup(t, s)

	ctx := context.Background()
	st := file.New(cacheDir)
	for _, name := range []string{"studio-cache-v0", "studio-cache-v1"} {
		p, err := st.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, p.Put(ctx, "GET "+s.URL+"/old", &store.Entry{Status: 200, Header: http.Header{}}))
	}
	// A directory the store did not create shares the cache directory.
	photo := filepath.Join(cacheDir, "family-photos", "kid.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(photo), 0o755))
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o600))

	out, err := run(t, "cleanup", "--dry-run", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "studio-cache-v0", gjson.Get(out, "0.name").String())
	assert.False(t, gjson.Get(out, "0.deleted").Bool())

	names, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "studio-cache-v0")

	out, err = run(t, "cleanup", "-o", "json")
	require.NoError(t, err)
	rows := gjson.Parse(out).Array()
	require.Len(t, rows, 1)
	assert.Equal(t, "studio-cache-v0", rows[0].Get("name").String())
	assert.True(t, rows[0].Get("deleted").Bool())

	names, err = st.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"studio-cache-v1"}, names)
	assert.FileExists(t, photo)
}

func TestCompletion(t *testing.T) {
	setup(t, nil)

	out, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "complete -F _studiocache studiocache")

	out, err = run(t, "completion", "zsh")
	require.NoError(t, err)
	assert.Contains(t, out, "compdef _studiocache studiocache")

	_, err = run(t, "completion", "fish")
	assert.Error(t, err)
}

func TestInitApp(t *testing.T) {
	setup(t, nil)
	app, err := InitApp(context.Background(), []string{"studiocache", "partitions"})
	require.NoError(t, err)

	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
		for i := 1; i < len(c.Flags); i++ {
			assert.LessOrEqual(t, c.Flags[i-1].Names()[0], c.Flags[i].Names()[0], "%s flags are sorted", c.Name)
		}
	}
	assert.ElementsMatch(t, []string{"cleanup", "completion", "entries", "fetch", "gallery", "partitions", "serve", "warm"}, names)
}
