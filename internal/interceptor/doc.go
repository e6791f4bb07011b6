// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package interceptor implements the offline caching policy for the studio
// site. An Interceptor moves through Install and Activate, then mediates each
// request: development tooling passes straight through, gallery images are
// served cache-first with a seven day freshness window, and everything else is
// served cache-first with a network fallback. Entries live in two
// version-tagged partitions of a store.Store; activation deletes every other
// partition.
package interceptor
