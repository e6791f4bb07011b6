// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// no-cloc

package gallery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `// Studio Data
// Update this file when you add new images to your studio

const studioData = [
  {
    src: "/studio/blessings (2025)_optimized.webp",
    title: "blessings",
    date: "2025",
  },
  {
    src: "/studio/longing (2022)_optimized.webp",
    title: "longing",
    date: "2022",
  },
];
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []Item
		wantErr error
	}{
		{
			name: "json",
			data: `[{"src":"/studio/a.png","title":"a","date":"2024"},{"src":"/studio/b.jpg"}]`,
			want: []Item{{Src: "/studio/a.png", Title: "a", Date: "2024"}, {Src: "/studio/b.jpg"}},
		},
		{
			name: "script",
			data: script,
			want: []Item{
				{Src: "/studio/blessings (2025)_optimized.webp", Title: "blessings", Date: "2025"},
				{Src: "/studio/longing (2022)_optimized.webp", Title: "longing", Date: "2022"},
			},
		},
		{
			name: "script strings keep their text",
			data: `const studioData = [
  { src: "/studio/notes.webp", title: "Notes, time: 3pm", date: "2023" },
  { src: "/studio/{a,b}.png", title: "braces {x: 1,}", date: "2021" },
];`,
			want: []Item{
				{Src: "/studio/notes.webp", Title: "Notes, time: 3pm", Date: "2023"},
				{Src: "/studio/{a,b}.png", Title: "braces {x: 1,}", Date: "2021"},
			},
		},
		{
			name: "script quotes and comments",
			data: `/* gallery */
export const studioData = [
  { src: '/studio/it\'s.webp', title: 'say "hi"', date: "2020" }, // newest
  {
    src: "https://cdn.example/studio/x.png", /* hosted */
    title: "x",
  },
  // older items go here
];`,
			want: []Item{
				{Src: "/studio/it's.webp", Title: `say "hi"`, Date: "2020"},
				{Src: "https://cdn.example/studio/x.png", Title: "x"},
			},
		},
		{name: "unterminated script string", data: `const d = [{ src: "/studio/a.png }];`, wantErr: ErrInvalid},
		{name: "empty array", data: `[]`, want: nil},
		{name: "missing src", data: `[{"title":"x"}]`, wantErr: ErrMissingSource},
		{name: "not an array", data: `{"src":"/studio/a.png"}`, wantErr: ErrInvalid},
		{name: "garbage", data: `not gallery data`, wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemURL(t *testing.T) {
	origin, _ := url.Parse("https://studio.example")
	u, err := Item{Src: "/studio/blessings (2025)_optimized.webp"}.URL(origin)
	require.NoError(t, err)
	assert.Equal(t, "/studio/blessings%20%282025%29_optimized.webp", u.EscapedPath())
	assert.Equal(t, "studio.example", u.Host)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio-data.js")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	items, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studio-data.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"src":"/studio/a.png","title":"a","date":"2024"}]`))
	}))
	defer srv.Close()

	items, err := Loader{Client: srv.Client()}.Load(context.Background(), srv.URL+"/studio-data.json")
	require.NoError(t, err)
	assert.Equal(t, []Item{{Src: "/studio/a.png", Title: "a", Date: "2024"}}, items)

	_, err = Loader{Client: srv.Client()}.Load(context.Background(), srv.URL+"/nope")
	assert.Error(t, err)
}
