// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"
)

var (
	validOutputFlagValues = []string{"text", "json", "raw", "yaml"}
	validStoreFlagValues  = []string{"memory", "file", "s3"}
)

// GlobalFlagsValidator checks flag combinations that single flag validators
// cannot see.
func GlobalFlagsValidator(_ context.Context, c *cli.Command) error {
	if c.String("store") == "s3" && c.String("bucket") == "" {
		return errors.New("--bucket is required with --store s3")
	}
	return nil
}

type FlagValidatorType func(any) error

func FlagValidators(value any, validators ...FlagValidatorType) error {
	for _, v := range validators {
		if err := v(value); err != nil {
			return err
		}
	}
	return nil
}

// JammedFlagValidator verifies that the arg following a flag does not begin
// with '--'. urfave/cli allows this and there is no switch to turn it off.
func JammedFlagValidator(value any) error {
	if strings.HasPrefix(value.(string), "--") {
		return errors.New("must not begin with '--'")
	}
	return nil
}

func OutputValidator(value any) error {
	if !slices.Contains(validOutputFlagValues, value.(string)) {
		return fmt.Errorf("must be one of %v", validOutputFlagValues)
	}
	return nil
}

func StoreValidator(value any) error {
	if !slices.Contains(validStoreFlagValues, value.(string)) {
		return fmt.Errorf("must be one of %v", validStoreFlagValues)
	}
	return nil
}

// OriginValidator requires an absolute http or https URL without a query.
func OriginValidator(value any) error {
	s := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("origin must be an http or https URL")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("origin must not have a query or fragment")
	}
	return nil
}
