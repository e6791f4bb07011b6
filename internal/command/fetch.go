// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/interceptor"
	"github.com/staranto/studiocache/internal/meta"
	"github.com/staranto/studiocache/internal/store"
)

// fetcher sends requests through a started interceptor, going to the network
// itself for anything the interceptor does not intercept.
type fetcher struct {
	ic     *interceptor.Interceptor
	client *http.Client
	method string
}

func (f *fetcher) fetch(ctx context.Context, ref string) (FetchRow, error) {
	row := FetchRow{Path: ref}

	r, err := url.Parse(ref)
	if err != nil {
		row.Source = "error"
		row.Error = err.Error()
		return row, fmt.Errorf("bad path %q: %w", ref, err)
	}
	u := f.ic.Config().Origin.ResolveReference(r)

	req, err := http.NewRequestWithContext(ctx, f.method, u.String(), nil)
	if err != nil {
		row.Source = "error"
		row.Error = err.Error()
		return row, err
	}

	resp, intercepted, err := f.ic.Fetch(ctx, req)
	if err != nil {
		row.Policy = f.ic.Config().Classify(u).String()
		row.Source = "error"
		row.Error = err.Error()
		return row, err
	}

	var e *store.Entry
	if intercepted {
		row.Policy = resp.Policy.String()
		row.Source = string(resp.Source)
		e = resp.Entry
	} else {
		row.Policy = interceptor.PolicyPassthrough.String()
		row.Source = "passthrough"
		netResp, err := f.client.Do(req)
		if err == nil {
			e, err = store.NewEntry(netResp)
		}
		if err != nil {
			row.Error = err.Error()
			return row, err
		}
	}

	row.Status = e.Status
	row.Bytes = e.Size()
	row.Type = e.Header.Get("Content-Type")
	log.Debugf("%s %s: %s %d", f.method, u, row.Source, row.Status)
	return row, nil
}

// startFetcher builds and starts an interceptor for the command.
func startFetcher(ctx context.Context, cmd *cli.Command) (*fetcher, error) {
	ic, _, err := newInterceptor(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := ic.Start(ctx); err != nil {
		return nil, err
	}
	log.Debugf("interceptor %s", ic.State())
	return &fetcher{
		ic:     ic,
		client: httpClient(cmd),
		method: strings.ToUpper(cmd.String("method")),
	}, nil
}

// FetchCommandAction is the action handler for the "fetch" subcommand. It
// installs and activates the interceptor and then requests each PATH through
// it, reporting which policy handled the request and where the response came
// from.
func FetchCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[FetchRow]{
		CommandName:  "fetch",
		DefaultAttrs: []string{"path", "policy", "source", "status", "bytes::h"},
		FetchFn: func(ctx context.Context, cmd *cli.Command) ([]FetchRow, error) {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return nil, errors.New("at least one PATH is required")
			}

			f, err := startFetcher(ctx, cmd)
			if err != nil {
				return nil, err
			}

			rows := make([]FetchRow, 0, len(paths))
			var errs []error
			for _, p := range paths {
				row, err := f.fetch(ctx, p)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", p, err))
				}
				rows = append(rows, row)
			}
			return rows, errors.Join(errs...)
		},
	}
	return runner.Run(ctx, cmd)
}

// FetchCommandBuilder constructs the cli.Command definition for the "fetch"
// command.
func FetchCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "fetch", meta.Config.Source

	flags := append(NewOriginFlags(ns, path), NewStoreFlags(ns, path)...)
	flags = append(flags, &cli.StringFlag{
		Name:  "method",
		Usage: "request method",
		Value: http.MethodGet,
		Validator: func(value string) error {
			return FlagValidators(value, JammedFlagValidator)
		},
	})

	return (&CommandBuilder{
		Name:      ns,
		Usage:     "fetch paths through the interceptor",
		UsageText: `studiocache fetch [options] PATH...`,
		Flags:     flags,
		Action:    FetchCommandAction,
		Meta:      meta,
	}).Build()
}
