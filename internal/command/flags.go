// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"os/exec"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/cacheutil"
)

var (
	schemaFlag *cli.BoolFlag = &cli.BoolFlag{
		Name:        "schema",
		Usage:       "dump the row attributes",
		HideDefault: true,
	}

	tldrFlag *cli.BoolFlag = &cli.BoolFlag{
		Name:        "tldr",
		Usage:       "show tldr page",
		Hidden:      !pathHas("tldr"),
		HideDefault: true,
	}
)

// configSources returns the namespaced and global config file sources for
// key. An empty path yields no sources.
func configSources(ns, path, key string) []cli.ValueSource {
	if path == "" {
		return nil
	}
	return []cli.ValueSource{
		yaml.YAML(ns+"."+key, altsrc.StringSourcer(path)),
		yaml.YAML(key, altsrc.StringSourcer(path)),
	}
}

// chain builds a value source chain of env vars followed by config file
// sources.
func chain(ns, path, key string, envs ...string) cli.ValueSourceChain {
	var srcs []cli.ValueSource
	for _, e := range envs {
		srcs = append(srcs, cli.EnvVar(e))
	}
	srcs = append(srcs, configSources(ns, path, key)...)
	return cli.NewValueSourceChain(srcs...)
}

// NewGlobalFlags returns the output flags shared by every listing command.
// ns is the command name and path the config file.
func NewGlobalFlags(ns, path string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "attrs",
			Aliases: []string{"a"},
			Usage:   "comma-separated list of attributes to include in results",
		},
		&cli.BoolWithInverseFlag{
			Name:    "color",
			Aliases: []string{"c"},
			Usage:   "enable colored text output",
			Sources: chain(ns, path, "color"),
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "comma-separated list of filters to apply to results",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format (text, json, yaml, raw)",
			Sources: chain(ns, path, "output", "STUDIOCACHE_OUTPUT"),
			Value:   "text",
			Validator: func(value string) error {
				return FlagValidators(value, OutputValidator)
			},
		},
		&cli.StringFlag{
			Name:    "sort",
			Aliases: []string{"s"},
			Usage:   "comma-separated list of attributes to sort the results by",
			Sources: chain(ns, path, "sort"),
		},
		&cli.BoolWithInverseFlag{
			Name:    "titles",
			Aliases: []string{"t"},
			Usage:   "show titles with text output",
			Sources: chain(ns, path, "titles"),
			Value:   false,
		},
	}
}

// NewOriginFlags returns the flags that describe the site being fronted.
func NewOriginFlags(ns, path string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "origin",
			Usage:   "site origin, e.g. https://studio.example",
			Sources: chain(ns, path, "origin", "STUDIOCACHE_ORIGIN"),
			Validator: func(value string) error {
				return FlagValidators(value, JammedFlagValidator, OriginValidator)
			},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "network timeout per request",
			Sources: chain(ns, path, "timeout", "STUDIOCACHE_TIMEOUT"),
			Value:   30 * time.Second,
		},
	}
}

// NewStoreFlags returns the flags that select and configure the partition
// store.
func NewStoreFlags(ns, path string) []cli.Flag {
	def := "file"
	if !cacheutil.Enabled() {
		def = "memory"
	}

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "partition store (memory, file, s3)",
			Sources: chain(ns, path, "store", "STUDIOCACHE_STORE"),
			Value:   def,
			Validator: func(value string) error {
				return FlagValidators(value, StoreValidator)
			},
		},
		&cli.StringFlag{
			Name:    "cache-dir",
			Usage:   "base directory of the file store",
			Sources: chain(ns, path, "cache-dir", "STUDIOCACHE_CACHE_DIR"),
		},
		&cli.StringFlag{
			Name:    "bucket",
			Usage:   "S3 bucket of the s3 store",
			Sources: chain(ns, path, "bucket", "STUDIOCACHE_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "prefix",
			Usage:   "key prefix within the S3 bucket",
			Sources: chain(ns, path, "prefix", "STUDIOCACHE_PREFIX"),
			Value:   "studiocache",
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region of the S3 bucket",
			Sources: chain(ns, path, "region", "AWS_REGION"),
		},
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "AWS shared config profile",
			Sources: chain(ns, path, "profile", "AWS_PROFILE"),
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "S3-compatible endpoint URL",
			Sources: chain(ns, path, "endpoint", "STUDIOCACHE_S3_ENDPOINT"),
		},
	}
}

// NewGalleryFlag returns the flag naming the gallery data file.
func NewGalleryFlag(ns, path string) cli.Flag {
	return &cli.StringFlag{
		Name:    "gallery",
		Aliases: []string{"g"},
		Usage:   "gallery data file path or URL (default <origin>/studio-data.js)",
		Sources: chain(ns, path, "gallery", "STUDIOCACHE_GALLERY"),
	}
}

// pathHas reports whether target is on the PATH.
func pathHas(target string) bool {
	_, err := exec.LookPath(target)
	return err == nil
}
