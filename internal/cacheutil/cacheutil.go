// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cacheutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/staranto/studiocache/internal/config"
)

// Dir resolves the base cache directory.
// Precedence:
//  1. STUDIOCACHE_CACHE_DIR, if set and non-empty
//  2. os.UserCacheDir()/studiocache
//
// Returns ("", false) if a base cannot be resolved (treat as disabled).
func Dir() (string, bool) {
	if c := config.GetEnv().CacheDir; c != "" {
		return c, true
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "studiocache"), true
	}
	return "", false
}

// Enabled returns true unless STUDIOCACHE_CACHE explicitly disables it
// ("0"/"false").
func Enabled() bool {
	enabled := config.GetEnv().Cache
	return enabled == "" || (enabled != "0" && enabled != "false")
}

// EnsureBaseDir creates the base cache directory if caching is enabled and
// a base path can be resolved. Returns the path, whether it is usable, and an
// error if creation failed.
func EnsureBaseDir() (string, bool, error) {
	if !Enabled() {
		return "", false, nil
	}
	base, ok := Dir()
	if !ok {
		return "", false, nil
	}
	if err := os.MkdirAll(base, 0o755); err != nil { //nolint:mnd
		return base, false, fmt.Errorf("failed to create cache base directory: %w", err)
	}
	return base, true, nil
}

// EncodeKey hashes k with MD5 and returns the hex string. Request keys carry
// full URLs, so they are never used as file or object names directly.
func EncodeKey(k string) string {
	h := md5.New()
	_, _ = h.Write([]byte(k))
	return hex.EncodeToString(h.Sum(nil))
}
