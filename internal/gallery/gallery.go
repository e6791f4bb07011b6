// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package gallery reads the studio data file that drives the image gallery.
package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/tidwall/gjson"
)

var (
	// ErrMissingSource is returned for an item without a src.
	ErrMissingSource = errors.New("gallery item has no src")
	// ErrInvalid is returned when the data is neither a JSON array nor a
	// script declaring one.
	ErrInvalid = errors.New("invalid gallery data")
)

// Item is one artwork. The first items are the most recent.
type Item struct {
	Src   string `json:"src" yaml:"src"`
	Title string `json:"title" yaml:"title"`
	Date  string `json:"date" yaml:"date"`
}

// URL resolves the item's src against origin.
func (i Item) URL(origin *url.URL) (*url.URL, error) {
	ref, err := url.Parse(i.Src)
	if err != nil {
		return nil, fmt.Errorf("bad src %q: %w", i.Src, err)
	}
	return origin.ResolveReference(ref), nil
}

// Parse reads gallery data. It accepts a JSON array of items, or the site's
// studio-data.js script whose array literal is normalized to JSON first.
func Parse(data []byte) ([]Item, error) {
	if !gjson.ValidBytes(data) {
		normalized, ok := fromScript(data)
		if !ok {
			return nil, ErrInvalid
		}
		log.Debugf("normalized script gallery data to %d bytes of json", len(normalized))
		data = normalized
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected an array", ErrInvalid)
	}

	var items []Item
	var err error
	root.ForEach(func(_, v gjson.Result) bool {
		item := Item{
			Src:   v.Get("src").String(),
			Title: v.Get("title").String(),
			Date:  v.Get("date").String(),
		}
		if item.Src == "" {
			err = fmt.Errorf("item %d: %w", len(items), ErrMissingSource)
			return false
		}
		items = append(items, item)
		return true
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// fromScript extracts the array literal from a script such as
// `const studioData = [ { src: "...", ... }, ];`.
func fromScript(data []byte) ([]byte, bool) {
	data = toJSON(data)
	start := bytes.IndexByte(data, '[')
	end := bytes.LastIndexByte(data, ']')
	if start < 0 || end < start {
		return nil, false
	}
	lit := data[start : end+1]
	if !gjson.ValidBytes(lit) {
		return nil, false
	}
	return lit, true
}

// toJSON rewrites JavaScript object and array literals in src as JSON. Comments
// are dropped, bare keys and single-quoted strings are double-quoted and
// trailing commas removed. The contents of strings are copied as they are.
func toJSON(src []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(src) + len(src)/8) //nolint:mnd

	// last is the previous significant byte outside a string.
	var last byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			i = copyString(&out, src, i)
			last = '"'
		case c == '/' && i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*'):
			i = skipComment(src, i) - 1
		case c == ',':
			if j := skipBlank(src, i+1); j < len(src) && (src[j] == '}' || src[j] == ']') {
				continue
			}
			out.WriteByte(c)
			last = c
		case isIdentStart(c) && (last == '{' || last == ','):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			if k := skipBlank(src, j); k < len(src) && src[k] == ':' {
				out.WriteByte('"')
				out.Write(src[i:j])
				out.WriteByte('"')
			} else {
				out.Write(src[i:j])
			}
			last = src[j-1]
			i = j - 1
		default:
			out.WriteByte(c)
			if !isSpace(c) {
				last = c
			}
		}
	}
	return out.Bytes()
}

// copyString writes the string literal opening at src[i] as a JSON string and
// returns the index of its closing quote.
func copyString(out *bytes.Buffer, src []byte, i int) int {
	quote := src[i]
	out.WriteByte('"')
	for i++; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			i++
			if src[i] == '\'' {
				out.WriteByte('\'')
			} else {
				out.WriteByte('\\')
				out.WriteByte(src[i])
			}
		case c == quote:
			out.WriteByte('"')
			return i
		case c == '"':
			out.WriteString(`\"`)
		default:
			out.WriteByte(c)
		}
	}
	return i
}

// skipComment returns the index just past the comment starting at src[i].
func skipComment(src []byte, i int) int {
	if src[i+1] == '/' {
		if nl := bytes.IndexByte(src[i:], '\n'); nl >= 0 {
			return i + nl
		}
		return len(src)
	}
	if end := bytes.Index(src[i+2:], []byte("*/")); end >= 0 {
		return i + 2 + end + 2
	}
	return len(src)
}

// skipBlank returns the index of the next byte at or after i that is neither
// whitespace nor part of a comment.
func skipBlank(src []byte, i int) int {
	for i < len(src) {
		switch {
		case isSpace(src[i]):
			i++
		case src[i] == '/' && i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*'):
			i = skipComment(src, i)
		default:
			return i
		}
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Loader reads gallery data from a file or URL.
type Loader struct {
	// Client fetches http and https sources. nil means http.DefaultClient.
	Client *http.Client
}

// Load reads source with a zero Loader.
func Load(ctx context.Context, source string) ([]Item, error) {
	return Loader{}.Load(ctx, source)
}

// Load reads and parses source, a local path or an http(s) URL.
func (l Loader) Load(ctx context.Context, source string) ([]Item, error) {
	var data []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = l.get(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery %s: %w", source, err)
	}

	items, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery %s: %w", source, err)
	}
	return items, nil
}

func (l Loader) get(ctx context.Context, source string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
