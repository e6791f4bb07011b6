// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
	"github.com/staranto/studiocache/internal/store"
)

// now is swapped by tests.
var now = time.Now

// entryRow describes e stored under key. maxAge is the freshness window.
func entryRow(key string, e *store.Entry, maxAge time.Duration) EntryRow {
	method, u, _ := strings.Cut(key, " ")
	row := EntryRow{
		Key:    key,
		Method: method,
		URL:    u,
		Status: e.Status,
		Type:   e.Header.Get("Content-Type"),
		Bytes:  e.Size(),
		Fresh:  true,
	}
	if at, ok := e.CachedAt(); ok {
		if !at.IsZero() {
			row.Cached = at.UTC().Format(time.RFC3339)
		}
		row.Fresh = now().Sub(at) < maxAge
	}
	return row
}

// EntriesCommandAction is the action handler for the "entries" subcommand.
func EntriesCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[EntryRow]{
		CommandName:  "entries",
		DefaultAttrs: []string{"url", "status", "bytes::h", "cached::r", "fresh"},
		FetchFn: func(ctx context.Context, cmd *cli.Command) ([]EntryRow, error) {
			if cmd.Args().Len() != 1 {
				return nil, errors.New("exactly one PARTITION is required")
			}
			name := cmd.Args().First()
			if err := store.ValidateName(name); err != nil {
				return nil, err
			}

			cfg, err := policyConfig(nil)
			if err != nil {
				return nil, err
			}
			st, err := openStore(ctx, cmd)
			if err != nil {
				return nil, err
			}

			// Open creates partitions, so look before opening.
			names, err := st.Keys(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list partitions: %w", err)
			}
			if !slices.Contains(names, name) {
				return nil, fmt.Errorf("partition %s not found", name)
			}

			p, err := st.Open(ctx, name)
			if err != nil {
				return nil, err
			}
			keys, err := p.Keys(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list partition %s: %w", name, err)
			}

			rows := make([]EntryRow, 0, len(keys))
			for _, key := range keys {
				e, ok, err := p.Match(ctx, key)
				if err != nil {
					return rows, err
				}
				if ok {
					rows = append(rows, entryRow(key, e, cfg.MaxAge))
				}
			}
			return rows, nil
		},
	}
	return runner.Run(ctx, cmd)
}

// EntriesCommandBuilder constructs the cli.Command definition for the
// "entries" command.
func EntriesCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "entries", meta.Config.Source

	return (&CommandBuilder{
		Name:      ns,
		Usage:     "list the entries of a partition",
		UsageText: `studiocache entries [options] PARTITION`,
		Flags:     NewStoreFlags(ns, path),
		Action:    EntriesCommandAction,
		Meta:      meta,
	}).Build()
}
