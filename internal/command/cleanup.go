// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
)

// CleanupCommandAction is the action handler for the "cleanup" subcommand. It
// runs the activation cleanup pass on its own, deleting every partition that
// is not current.
func CleanupCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[CleanupRow]{
		CommandName:  "cleanup",
		DefaultAttrs: []string{"name", "deleted"},
		FetchFn: func(ctx context.Context, cmd *cli.Command) ([]CleanupRow, error) {
			ic, st, err := newInterceptor(ctx, cmd)
			if err != nil {
				return nil, err
			}

			if cmd.Bool("dry-run") {
				names, err := st.Keys(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to list partitions: %w", err)
				}
				var rows []CleanupRow
				for _, name := range names {
					if !ic.Config().Current(name) {
						rows = append(rows, CleanupRow{Name: name})
					}
				}
				return rows, nil
			}

			deleted, err := ic.Cleanup(ctx)
			rows := make([]CleanupRow, 0, len(deleted))
			for _, name := range deleted {
				rows = append(rows, CleanupRow{Name: name, Deleted: true})
			}
			return rows, err
		},
	}
	return runner.Run(ctx, cmd)
}

// CleanupCommandBuilder constructs the cli.Command definition for the
// "cleanup" command.
func CleanupCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "cleanup", meta.Config.Source

	flags := append(NewOriginFlags(ns, path), NewStoreFlags(ns, path)...)
	flags = append(flags, &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "list the partitions that would be deleted",
	})

	return (&CommandBuilder{
		Name:      ns,
		Usage:     "delete partitions that are not current",
		UsageText: `studiocache cleanup [options]`,
		Flags:     flags,
		Action:    CleanupCommandAction,
		Meta:      meta,
	}).Build()
}
