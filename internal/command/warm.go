// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"net/http"

	"github.com/apex/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
)

// WarmCommandAction is the action handler for the "warm" subcommand. Every
// gallery image is fetched through the interceptor so the image partition
// holds a fresh copy of each.
func WarmCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[FetchRow]{
		CommandName:  "warm",
		DefaultAttrs: []string{"title", "source", "status", "bytes::h"},
		FetchFn: func(ctx context.Context, cmd *cli.Command) ([]FetchRow, error) {
			items, err := loadGallery(ctx, cmd)
			if err != nil {
				return nil, err
			}

			f, err := startFetcher(ctx, cmd)
			if err != nil {
				return nil, err
			}
			f.method = http.MethodGet

			parallel := cmd.Int("parallel")
			if parallel < 1 {
				parallel = 1
			}

			rows := make([]FetchRow, len(items))
			failed := make([]bool, len(items))
			p := pool.New().WithMaxGoroutines(parallel).WithContext(ctx)
			for i, item := range items {
				p.Go(func(ctx context.Context) error {
					row, err := f.fetch(ctx, item.Src)
					row.Title = item.Title
					rows[i] = row
					switch {
					case err != nil:
						log.WithError(err).Warnf("failed to warm %s", item.Src)
						failed[i] = true
					case row.Status < 200 || row.Status > 299:
						log.Warnf("failed to warm %s: status %d from %s", item.Src, row.Status, row.Source)
						failed[i] = true
					}
					return nil
				})
			}
			if err := p.Wait(); err != nil {
				return rows, err
			}

			n := 0
			for _, bad := range failed {
				if bad {
					n++
				}
			}
			if n > 0 {
				return rows, fmt.Errorf("%d of %d images failed", n, len(items))
			}
			return rows, nil
		},
	}
	return runner.Run(ctx, cmd)
}

// WarmCommandBuilder constructs the cli.Command definition for the "warm"
// command.
func WarmCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "warm", meta.Config.Source

	flags := append(NewOriginFlags(ns, path), NewStoreFlags(ns, path)...)
	flags = append(flags,
		NewGalleryFlag(ns, path),
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "number of concurrent fetches",
			Sources: chain(ns, path, "parallel", "STUDIOCACHE_PARALLEL"),
			Value:   4,
		},
	)

	return (&CommandBuilder{
		Name:      ns,
		Usage:     "fetch every gallery image through the interceptor",
		UsageText: `studiocache warm [options]`,
		Flags:     flags,
		Action:    WarmCommandAction,
		Meta:      meta,
	}).Build()
}
