// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
)

// PartitionsCommandAction is the action handler for the "partitions"
// subcommand.
func PartitionsCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[PartitionRow]{
		CommandName:  "partitions",
		DefaultAttrs: []string{"name", "entries", "bytes::h", "current"},
		FetchFn: func(ctx context.Context, cmd *cli.Command) ([]PartitionRow, error) {
			cfg, err := policyConfig(nil)
			if err != nil {
				return nil, err
			}
			st, err := openStore(ctx, cmd)
			if err != nil {
				return nil, err
			}

			names, err := st.Keys(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list partitions: %w", err)
			}

			rows := make([]PartitionRow, 0, len(names))
			for _, name := range names {
				p, err := st.Open(ctx, name)
				if err != nil {
					return rows, fmt.Errorf("failed to open partition %s: %w", name, err)
				}
				keys, err := p.Keys(ctx)
				if err != nil {
					return rows, fmt.Errorf("failed to list partition %s: %w", name, err)
				}

				row := PartitionRow{Name: name, Entries: len(keys), Current: cfg.Current(name)}
				for _, key := range keys {
					e, ok, err := p.Match(ctx, key)
					if err != nil {
						return rows, err
					}
					if ok {
						row.Bytes += e.Size()
					}
				}
				rows = append(rows, row)
			}
			return rows, nil
		},
	}
	return runner.Run(ctx, cmd)
}

// PartitionsCommandBuilder constructs the cli.Command definition for the
// "partitions" command.
func PartitionsCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "partitions", meta.Config.Source

	return (&CommandBuilder{
		Name:      ns,
		Aliases:   []string{"ls"},
		Usage:     "list cache partitions",
		UsageText: `studiocache partitions [options]`,
		Flags:     NewStoreFlags(ns, path),
		Action:    PartitionsCommandAction,
		Meta:      meta,
	}).Build()
}
