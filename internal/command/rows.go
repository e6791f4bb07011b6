// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

// FetchRow is one request made by fetch or warm.
type FetchRow struct {
	Path   string `json:"path"`
	Title  string `json:"title,omitempty"`
	Policy string `json:"policy"`
	Source string `json:"source"`
	Status int    `json:"status"`
	Bytes  int    `json:"bytes"`
	Type   string `json:"type,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PartitionRow summarizes one partition.
type PartitionRow struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int    `json:"bytes"`
	Current bool   `json:"current"`
}

// EntryRow is one stored response.
type EntryRow struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Type   string `json:"type,omitempty"`
	Bytes  int    `json:"bytes"`
	// Cached is the freshness marker as RFC3339, empty for unmarked entries.
	Cached string `json:"cached,omitempty"`
	Fresh  bool   `json:"fresh"`
}

// CleanupRow is one partition removed, or to be removed, by cleanup.
type CleanupRow struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}
