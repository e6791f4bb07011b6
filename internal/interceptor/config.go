// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/staranto/studiocache/internal/store"
)

// Defaults mirror the published site. The tags must be bumped by the release
// process whenever cached assets change incompatibly.
const (
	DefaultShellCache  = "studio-cache-v1"
	DefaultImageCache  = "studio-images-v1"
	DefaultImagePrefix = "/studio/"
	DefaultMaxAge      = 7 * 24 * time.Hour
)

var (
	// DefaultManifest is pre-cached into the shell partition at install.
	DefaultManifest = []string{"/studio.html", "/studio-data.js", "/index.html"}
	// DefaultImageExts are the image extensions handled by the image policy.
	DefaultImageExts = []string{".png", ".jpg", ".jpeg", ".webp"}
	// DefaultDevHosts disable interception entirely.
	DefaultDevHosts = []string{"localhost", "127.0.0.1"}
	// DefaultNoStorePrefixes are default-policy paths that are served but
	// never written to the shell partition.
	DefaultNoStorePrefixes = []string{"/src/", "/@", "/assets/"}
)

// DefaultPassthrough excludes the worker script itself and the dev server's
// module graph, which must never be answered from a cache.
func DefaultPassthrough() Rules {
	return Rules{
		Hosts:    slices.Clone(DefaultDevHosts),
		Paths:    []string{"/sw.js", "/vite.svg"},
		Prefixes: []string{"/src/", "/@vite/", "/@id/", "/node_modules/", "/assets/"},
		Contains: []string{".js", ".mjs"},
	}
}

// Rules select requests by URL.
type Rules struct {
	// Hosts match the URL hostname exactly.
	Hosts []string `yaml:"hosts"`
	// Paths match the escaped path exactly.
	Paths []string `yaml:"paths"`
	// Prefixes match the start of the escaped path.
	Prefixes []string `yaml:"prefixes"`
	// Contains match anywhere in the escaped path.
	Contains []string `yaml:"contains"`
}

// Match reports whether any rule selects u.
func (r Rules) Match(u *url.URL) bool {
	if slices.Contains(r.Hosts, u.Hostname()) {
		return true
	}
	p := u.EscapedPath()
	if slices.Contains(r.Paths, p) {
		return true
	}
	for _, prefix := range r.Prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for _, s := range r.Contains {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}

// Config parameterizes an Interceptor. Use DefaultConfig and override fields.
type Config struct {
	// Origin is the site the interceptor fronts. Manifest paths resolve
	// against it and its hostname decides whether this is a dev environment.
	Origin *url.URL

	ShellCache string
	ImageCache string
	Manifest   []string

	ImagePrefix string
	ImageExts   []string
	// MaxAge is the freshness window for stamped image entries.
	MaxAge time.Duration

	Passthrough     Rules
	DevHosts        []string
	NoStorePrefixes []string
}

// DefaultConfig returns the published site's policy for origin.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		Origin:          origin,
		ShellCache:      DefaultShellCache,
		ImageCache:      DefaultImageCache,
		Manifest:        slices.Clone(DefaultManifest),
		ImagePrefix:     DefaultImagePrefix,
		ImageExts:       slices.Clone(DefaultImageExts),
		MaxAge:          DefaultMaxAge,
		Passthrough:     DefaultPassthrough(),
		DevHosts:        slices.Clone(DefaultDevHosts),
		NoStorePrefixes: slices.Clone(DefaultNoStorePrefixes),
	}
}

// Validate checks that c can drive an Interceptor.
func (c Config) Validate() error {
	var errs []error
	if c.Origin == nil || !c.Origin.IsAbs() || c.Origin.Host == "" {
		errs = append(errs, errors.New("origin must be an absolute URL"))
	}
	if err := store.ValidateName(c.ShellCache); err != nil {
		errs = append(errs, fmt.Errorf("shell cache: %w", err))
	}
	if err := store.ValidateName(c.ImageCache); err != nil {
		errs = append(errs, fmt.Errorf("image cache: %w", err))
	}
	if c.ShellCache != "" && c.ShellCache == c.ImageCache {
		errs = append(errs, errors.New("shell and image caches must have different names"))
	}
	if c.MaxAge <= 0 {
		errs = append(errs, errors.New("max age must be positive"))
	}
	return errors.Join(errs...)
}

// Classify decides which policy handles a request for u.
func (c Config) Classify(u *url.URL) Policy {
	if c.Passthrough.Match(u) {
		return PolicyPassthrough
	}
	if c.isImage(u) {
		return PolicyImage
	}
	return PolicyDefault
}

func (c Config) isImage(u *url.URL) bool {
	p := u.EscapedPath()
	if !strings.HasPrefix(p, c.ImagePrefix) {
		return false
	}
	for _, ext := range c.ImageExts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// IsDevHost reports whether host is a local development host.
func (c Config) IsDevHost(host string) bool {
	return slices.Contains(c.DevHosts, host)
}

func (c Config) storable(u *url.URL) bool {
	p := u.EscapedPath()
	for _, prefix := range c.NoStorePrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	return true
}

// Current reports whether name is one of the two live partition tags.
func (c Config) Current(name string) bool {
	return name == c.ShellCache || name == c.ImageCache
}
