// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/gallery"
	"github.com/staranto/studiocache/internal/meta"
)

// DefaultGallery is the data file path relative to the origin.
const DefaultGallery = "/studio-data.js"

// gallerySource resolves --gallery. Without it the data file is fetched from
// the origin. Relative local paths are taken from the starting directory.
func gallerySource(cmd *cli.Command) (string, error) {
	src := cmd.String("gallery")
	if src == "" {
		origin, err := originURL(cmd)
		if err != nil {
			return "", err
		}
		return origin.ResolveReference(&url.URL{Path: DefaultGallery}).String(), nil
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	if !filepath.IsAbs(src) {
		if dir := GetMeta(cmd).StartingDir; dir != "" {
			src = filepath.Join(dir, src)
		}
	}
	return src, nil
}

// loadGallery reads the items named by --gallery.
func loadGallery(ctx context.Context, cmd *cli.Command) ([]gallery.Item, error) {
	src, err := gallerySource(cmd)
	if err != nil {
		return nil, err
	}
	log.Debugf("gallery: %s", src)
	return gallery.Loader{Client: httpClient(cmd)}.Load(ctx, src)
}

// GalleryCommandAction is the action handler for the "gallery" subcommand.
func GalleryCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := &ActionRunner[gallery.Item]{
		CommandName:  "gallery",
		DefaultAttrs: []string{"title", "date", "src"},
		FetchFn:      loadGallery,
	}
	return runner.Run(ctx, cmd)
}

// GalleryCommandBuilder constructs the cli.Command definition for the
// "gallery" command.
func GalleryCommandBuilder(meta meta.Meta) *cli.Command {
	ns, path := "gallery", meta.Config.Source

	flags := append(NewOriginFlags(ns, path), NewGalleryFlag(ns, path))

	return (&CommandBuilder{
		Name:      ns,
		Usage:     "list gallery items",
		UsageText: `studiocache gallery [options]`,
		Flags:     flags,
		Action:    GalleryCommandAction,
		Meta:      meta,
	}).Build()
}
