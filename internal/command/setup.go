// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/aws"
	"github.com/staranto/studiocache/internal/config"
	"github.com/staranto/studiocache/internal/interceptor"
	"github.com/staranto/studiocache/internal/store"
	"github.com/staranto/studiocache/internal/store/file"
	"github.com/staranto/studiocache/internal/store/memory"
	s3store "github.com/staranto/studiocache/internal/store/s3"
)

// ErrNoOrigin is returned by commands that need an origin when none was given
// by flag, environment or config file.
var ErrNoOrigin = errors.New("no origin: set --origin, STUDIOCACHE_ORIGIN or origin in the config file")

// openStore builds the store selected by --store.
func openStore(ctx context.Context, cmd *cli.Command) (store.Store, error) {
	switch kind := cmd.String("store"); kind {
	case "memory":
		return memory.New(), nil
	case "", "file":
		if dir := cmd.String("cache-dir"); dir != "" {
			return file.New(dir), nil
		}
		return file.NewDefault()
	case "s3":
		bucket := cmd.String("bucket")
		if bucket == "" {
			return nil, errors.New("--bucket is required with --store s3")
		}
		attempts, err := config.GetInt("s3-max-attempts", 0)
		if err != nil {
			return nil, err
		}
		cfg, err := aws.LoadAWSConfig(ctx,
			aws.WithProfile(cmd.String("profile")),
			aws.WithRegion(cmd.String("region")),
			aws.WithMaxAttempts(attempts),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := aws.NewS3(cfg, aws.WithS3Endpoint(cmd.String("endpoint")))
		log.Debugf("s3 store s3://%s/%s", bucket, cmd.String("prefix"))
		return s3store.New(client, bucket, cmd.String("prefix")), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

// originURL parses --origin.
func originURL(cmd *cli.Command) (*url.URL, error) {
	raw := cmd.String("origin")
	if raw == "" {
		return nil, ErrNoOrigin
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	return u, nil
}

// httpClient is the network side of the interceptor.
func httpClient(cmd *cli.Command) *http.Client {
	return &http.Client{Timeout: cmd.Duration("timeout")}
}

// interceptorOverrides is the interceptor section of the config file. Unset
// fields keep their defaults. The pointer fields distinguish an explicitly
// empty list from an absent one.
type interceptorOverrides struct {
	ShellCache      string             `yaml:"shell-cache"`
	ImageCache      string             `yaml:"image-cache"`
	Manifest        []string           `yaml:"manifest"`
	ImagePrefix     string             `yaml:"image-prefix"`
	ImageExts       []string           `yaml:"image-exts"`
	MaxAge          string             `yaml:"max-age"`
	Passthrough     *interceptor.Rules `yaml:"passthrough"`
	DevHosts        *[]string          `yaml:"dev-hosts"`
	NoStorePrefixes *[]string          `yaml:"no-store-prefixes"`
}

func (o interceptorOverrides) apply(cfg *interceptor.Config) error {
	if o.ShellCache != "" {
		cfg.ShellCache = o.ShellCache
	}
	if o.ImageCache != "" {
		cfg.ImageCache = o.ImageCache
	}
	if o.Manifest != nil {
		cfg.Manifest = o.Manifest
	}
	if o.ImagePrefix != "" {
		cfg.ImagePrefix = o.ImagePrefix
	}
	if o.ImageExts != nil {
		cfg.ImageExts = o.ImageExts
	}
	if o.MaxAge != "" {
		d, err := time.ParseDuration(o.MaxAge)
		if err != nil {
			return fmt.Errorf("max-age: %w", err)
		}
		cfg.MaxAge = d
	}
	if o.Passthrough != nil {
		cfg.Passthrough = *o.Passthrough
	}
	if o.DevHosts != nil {
		cfg.DevHosts = *o.DevHosts
	}
	if o.NoStorePrefixes != nil {
		cfg.NoStorePrefixes = *o.NoStorePrefixes
	}
	return nil
}

// interceptorConfig returns the default policy for --origin with the config
// file's interceptor section applied.
func interceptorConfig(cmd *cli.Command) (interceptor.Config, error) {
	origin, err := originURL(cmd)
	if err != nil {
		return interceptor.Config{}, err
	}
	return policyConfig(origin)
}

// policyConfig returns the default policy for origin with the config file's
// `<command>.interceptor` or `interceptor` section applied. origin may be nil
// when only the partition tags are needed.
func policyConfig(origin *url.URL) (interceptor.Config, error) {
	cfg := interceptor.DefaultConfig(origin)

	var o interceptorOverrides
	if err := config.Decode("interceptor", &o); err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return cfg, err
		}
		return cfg, nil
	}
	if err := o.apply(&cfg); err != nil {
		return cfg, fmt.Errorf("interceptor config: %w", err)
	}
	return cfg, nil
}

// newInterceptor wires the configured store and network into an Uninstalled
// interceptor.
func newInterceptor(ctx context.Context, cmd *cli.Command) (*interceptor.Interceptor, store.Store, error) {
	cfg, err := interceptorConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	ic, err := interceptor.New(cfg, st, httpClient(cmd))
	if err != nil {
		return nil, nil, err
	}
	return ic, st, nil
}
