// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
	"github.com/staranto/studiocache/internal/proxy"
)

// ServeCommandAction is the action handler for the "serve" subcommand. It runs
// the caching front until the context is cancelled.
func ServeCommandAction(ctx context.Context, cmd *cli.Command) error {
	if ShortCircuitTLDR(ctx, cmd, "serve") {
		return nil
	}

	ic, _, err := newInterceptor(ctx, cmd)
	if err != nil {
		return err
	}

	srv := &proxy.Server{
		Addr: cmd.String("listen"),
		IC:   ic,
		Ready: func(addr string) {
			log.Infof("serving %s on %s (%s)", ic.Config().Origin, addr, ic.State())
			fmt.Fprintf(stdout(cmd), "listening on http://%s\n", addr)
		},
	}
	return srv.ListenAndServe(ctx)
}

// ServeCommandBuilder constructs the cli.Command definition for the "serve"
// command.
func ServeCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "serve", meta.Config.Source

	flags := append(NewOriginFlags(ns, path), NewStoreFlags(ns, path)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "address to listen on",
			Sources: chain(ns, path, "listen", "STUDIOCACHE_LISTEN"),
			Value:   "127.0.0.1:8080",
		},
		tldrFlag,
	)

	return &cli.Command{
		Name:      ns,
		Usage:     "run the caching HTTP front",
		UsageText: `studiocache serve [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: flags,
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, c)
		},
		Action: ServeCommandAction,
	}
}
